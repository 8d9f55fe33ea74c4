// Command cti-overwatch is the supervisor helper process: a privileged
// child, forked by the Frontend over a SOCK_STREAM AF_UNIX socket pair
// landing on fd 3, that outlives the controlling tool and owns every pid
// it is told to track so a crash of the tool still guarantees cleanup.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/common-tools-interface/cti/internal/overwatch"
	"github.com/common-tools-interface/cti/shared/logger"
)

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "cti-overwatch: logger init: %v\n", err)
		os.Exit(1)
	}

	f := os.NewFile(3, "cti-overwatch-socket")
	if f == nil {
		logger.Fatalf("cti-overwatch: fd 3 not available")
	}

	conn, err := net.FileConn(f)
	if err != nil {
		logger.Fatalf("cti-overwatch: wrapping fd 3: %v", err)
	}

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		logger.Fatalf("cti-overwatch: fd 3 is not AF_UNIX")
	}

	if err := overwatch.Run(unixConn); err != nil {
		logger.Fatalf("cti-overwatch: %v", err)
	}
}
