// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import "sync"

// hub fans every logged line out to subscribers, backing GET
// /v1/logs/stream. Mirrors audit.Ring's best-effort tail
// subscription: a slow reader drops lines rather than blocking a logger
// call on the hot path.
var hub = struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}{subs: make(map[chan string]struct{})}

func publish(line string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for c := range hub.subs {
		select {
		case c <- line:
		default:
		}
	}
}

// Subscribe returns a channel receiving every line logged after the call,
// across all components, and a cancel function that releases it.
func Subscribe() (ch <-chan string, cancel func()) {
	c := make(chan string, 256)
	hub.mu.Lock()
	hub.subs[c] = struct{}{}
	hub.mu.Unlock()
	return c, func() {
		hub.mu.Lock()
		if _, ok := hub.subs[c]; ok {
			delete(hub.subs, c)
			close(c)
		}
		hub.mu.Unlock()
	}
}
