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

package export

import "flowgate/internal/ingest"

// Fanout hands every accepted batch to each configured Worker, implementing
// ingest.Sink so Pipeline never knows how many destinations a batch ends up
// at. Submit returns false only when no worker accepted the batch; a partial
// delivery still returns true. Each worker increments drops_total itself
// whenever it evicts its oldest queued batch to make room.
type Fanout struct {
	workers []*Worker
}

// NewFanout returns a Fanout over workers, skipping any nil entries so a
// disabled sink can simply be omitted.
func NewFanout(workers ...*Worker) *Fanout {
	live := make([]*Worker, 0, len(workers))
	for _, w := range workers {
		if w != nil {
			live = append(live, w)
		}
	}
	return &Fanout{workers: live}
}

func (f *Fanout) Submit(batch ingest.EnrichedBatch) bool {
	if len(f.workers) == 0 {
		return true
	}
	ok := false
	for _, w := range f.workers {
		if w.Submit(batch) {
			ok = true
		}
	}
	return ok
}
