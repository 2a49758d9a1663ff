/*
Package logging implements application log setup and Apache combined
access log.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import logrus and use its
package level functions. Example:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
		log.Errorf("nothing to do")
	}

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, to set the level, and to set
a common prefix for each log entry. Setting the prefix may be a good idea
when the access log is enabled and its output is the same as the one of
the application log, to make it easier to split the output for
diagnostics.

# Access Log

The access log prints HTTP access information in the Apache combined
access log format, followed by the duration in milliseconds, the requested
host and the content-coding of the response. To output entries, wrap the
handler with NewHandler, or call LogAccess directly. When the interception
handlers are wrapped, the entry shows the response as it was sent, after
compression or any other transformation.

During initialization, it is possible to redirect the access log output
from the default /dev/stderr to another file, switch it to JSON, or
completely disable the access log.
*/
package logging
