/*
 * Copyright 2022 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package grpcsync

import "sync"

// OnceFunc returns a function that invokes f only on the first call. This
// makes a cleanup closure (e.g. an unref closure) idempotent without
// requiring every call site to track whether it has already run.
func OnceFunc(f func()) func() {
	var once sync.Once
	return func() { once.Do(f) }
}
