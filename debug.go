// Copyright 2015 Google Inc. All Rights Reserved.
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

package xio

import (
	"flag"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sync"
)

var fEnableDebug = flag.Bool(
	"xio.debug",
	false,
	"Write connection debugging messages to stderr.")

var gLogger *log.Logger
var gLoggerOnce sync.Once

func initLogger() {
	if !flag.Parsed() {
		panic("initLogger called before flags available.")
	}

	var writer io.Writer = ioutil.Discard
	if *fEnableDebug {
		writer = os.Stderr
	}

	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	gLogger = log.New(writer, "xio: ", flags)
}

func getLogger() *log.Logger {
	gLoggerOnce.Do(initLogger)
	return gLogger
}

// debugLog writes a debug message tagged with the connection's sequence
// number, mirroring the teacher's connection.go debugLog which tags
// messages with a FUSE request ID instead. It prefers a per-connection
// logger (ConnectionConfig.DebugLogger) when one was configured, and
// otherwise falls back to the package-level, -xio.debug-gated logger, so
// the flag does something even for a Connection built without an explicit
// logger.
func (c *Connection) debugLog(sn uint32, format string, v ...interface{}) {
	logger := c.debugLogger
	if logger == nil {
		logger = getLogger()
	}
	logger.Printf("sn=%08x] "+format, append([]interface{}{sn}, v...)...)
}
