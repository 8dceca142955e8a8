/*
Package ipc provides the worker side of a line-oriented request/response protocol spoken over a pair of byte streams, normally the worker's stdin and stdout. A supervising process (the host) starts the worker, writes requests to its stdin and reads responses from its stdout. The worker exits on its own once the host is gone.

Every message is a single line: the magic token "PYIPCHEAD_" immediately followed by a JSON object, terminated by "\n". Lines that don't start with the magic token are not part of the protocol and are ignored by the worker, so the host can interleave the worker's ordinary output with protocol traffic.

There are three kinds of messages:

	heartbeat (worker->host):  PYIPCHEAD_{}
	request   (host->worker):  PYIPCHEAD_{"call":"echo","id":"42","data":{...}}
	response  (worker->host):  PYIPCHEAD_{"id":"42","data":{...}}
	                           PYIPCHEAD_{"id":"42","error":"No handler: echo"}

A response carries the id of its request and exactly one of "data" or "error". Requests whose call has no registered handler, and handlers that fail, produce an "error" response. Frames that can't be decoded produce nothing at all.

The worker runs a single cooperative loop (see Worker). Each tick it checks that the host is still alive, polls the input without blocking, and dispatches every complete line it has buffered. Handlers run inline on the loop, so responses are written in the order their requests arrived, and a slow handler delays everything behind it.

The host's PID is passed as the worker's first positional argument. Without it, liveness checking is disabled and the worker only stops when its input is closed.
*/
package ipc
