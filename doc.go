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

// Package xio implements a reliable, credit-based, sliding-window
// messaging protocol over an RDMA transport: a connection scheduler with
// request/response admission control and in-flight budgets, a TCP-like
// graceful close state machine, and a cooperative cancel subsystem.
//
// The primary elements of interest are:
//
//   - Connection, which schedules application messages onto an RDMA
//     transport and drives the close and cancel state machines.
//   - The Verbs interface, the RDMA collaborator a Connection is built
//     against; internal/looptransport provides an in-process
//     implementation for tests and for environments without RDMA
//     hardware.
//   - Session and ExecutionContext, the endpoint-identity and event-loop
//     collaborators a Connection consumes rather than implements.
//
// This package implements only the connection/message-scheduling core.
// Address resolution, memory-region registration, and statistics
// aggregation are external collaborators it consumes through the
// interfaces in session.go and verbs.go.
package xio
