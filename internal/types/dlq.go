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

package types

import "time"

// DLQEntry is a batch that failed final delivery to a sink, kept until
// redelivery succeeds or the retention horizon passes.
type DLQEntry struct {
	ID            string
	Destination   string // sink descriptor, e.g. "splunk" or "elastic"
	Payload       []byte // the original batch payload, as sent to the sink
	FirstAttempt  time.Time
	LastAttempt   time.Time
	Attempts      int
	NextEligible  time.Time
	LastError     string
}
