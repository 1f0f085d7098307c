// Copyright 2024 The Armored Kernel authors. All Rights Reserved.
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

package boot

import "strings"

// Verbosity maps a log level name to a klog verbosity, info being the
// baseline for empty or unknown names.
func Verbosity(level string) int {
	switch normalize(level) {
	case "trace":
		return 2
	case "debug":
		return 1
	default:
		return 0
	}
}

// Threshold maps a log level name to the lowest klog severity printed to
// the console, suitable for the stderrthreshold flag.
func Threshold(level string) string {
	switch normalize(level) {
	case "warn", "warning":
		return "WARNING"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

func normalize(level string) string {
	return strings.ToLower(strings.TrimSpace(level))
}
