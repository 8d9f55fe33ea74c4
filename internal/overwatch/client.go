package overwatch

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/common-tools-interface/cti/shared/api"
	"github.com/common-tools-interface/cti/shared/logger"
)

// Client is the Frontend-side stub for the supervisor helper's request
// stream. Only the Frontend may write requests; a single Client is meant to
// be shared process-wide and serializes its own calls, since the underlying
// connection is a single ordered byte stream.
type Client struct {
	mu   sync.Mutex
	conn *net.UnixConn
	r    *bufio.Reader

	// HelperPID is the pid of the forked helper process, learned from the
	// initial handshake: the helper sends its pid, the parent sends none.
	HelperPID int
}

// NewClient wraps an already-connected request/response socket (a
// SOCK_STREAM AF_UNIX pair created with golang.org/x/sys/unix.Socketpair;
// the other end is handed to the forked helper before exec).
func NewClient(conn *net.UnixConn) (*Client, error) {
	c := &Client{conn: conn, r: bufio.NewReader(conn)}

	pid, err := readUint64(c.r)
	if err != nil {
		return nil, api.Wrap(api.KindHelper, err, "reading helper handshake pid")
	}

	c.HelperPID = int(pid)
	logger.Debugf("overwatch: helper handshake, pid=%d", c.HelperPID)

	return c, nil
}

func (c *Client) call(req func() error, fds []int, decode func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := req(); err != nil {
		return api.Wrap(api.KindHelper, err, "writing request")
	}

	if fds != nil {
		if err := sendFDs(c.conn, fds); err != nil {
			return api.Wrap(api.KindHelper, err, "sending fds")
		}
	}

	if err := decode(); err != nil {
		return api.Wrap(api.KindHelper, err, "reading response")
	}

	return nil
}

func fdsOf(io api.LaunchIO) []int {
	get := func(p *int, def int) int {
		if p != nil {
			return *p
		}

		return def
	}

	return []int{get(io.Stdin, 0), get(io.Stdout, 1), get(io.Stderr, 2)}
}

// ForkExecvpApp asks the helper to fork+exec the job launcher, returning its
// pid and an app-id the helper will track for cleanup-on-exit.
func (c *Client) ForkExecvpApp(ctx context.Context, argv, env []string, io api.LaunchIO) (pid int, appID uint64, err error) {
	var resp struct {
		ok  bool
		msg string
		pid uint64
		id  uint64
	}

	err = c.call(
		func() error {
			if err := writeTag(c.conn, tagForkExecvpApp); err != nil {
				return err
			}

			return writeLaunchData(c.conn, LaunchData{Path: argv[0], Argv: argv[1:], Env: env})
		},
		fdsOf(io),
		func() error {
			t, err := readTag(c.r)
			if err != nil {
				return err
			}

			if t != tagRespID {
				return fmt.Errorf("unexpected response tag %v for ForkExecvpApp", t)
			}

			resp.pid, err = readUint64(c.r)
			if err != nil {
				return err
			}

			resp.id, err = readUint64(c.r)

			return err
		},
	)
	if err != nil {
		return 0, 0, err
	}

	if resp.id == 0 {
		return 0, 0, api.NewError(api.KindHelper, "ForkExecvpApp: helper failed to spawn %q", argv[0])
	}

	return int(resp.pid), resp.id, nil
}

// ForkExecvpUtil asks the helper to fork+exec a non-launcher utility (a
// tool daemon, a WLM CLI invocation) attributed to appID. mode=Sync blocks
// until it exits.
func (c *Client) ForkExecvpUtil(ctx context.Context, appID string, mode Synchrony, argv, env []string) ([]string, error) {
	var ok bool
	var ids []string

	err := c.call(
		func() error {
			if err := writeTag(c.conn, tagForkExecvpUtil); err != nil {
				return err
			}

			if err := writeString(c.conn, appID); err != nil {
				return err
			}

			if err := writeUint64(c.conn, uint64(mode)); err != nil {
				return err
			}

			return writeLaunchData(c.conn, LaunchData{Path: argv[0], Argv: argv[1:], Env: env})
		},
		nil,
		func() error {
			t, err := readTag(c.r)
			if err != nil {
				return err
			}

			if t != tagRespOK {
				return fmt.Errorf("unexpected response tag %v for ForkExecvpUtil", t)
			}

			ok, err = readBool(c.r)
			if err != nil {
				return err
			}

			ids, err = readStrings(c.r)

			return err
		},
	)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, api.NewError(api.KindWlm, "ForkExecvpUtil(%s) failed", appID)
	}

	return ids, nil
}

// LaunchMPIR asks the helper to fork+exec+ptrace a launcher and run it to
// MPIR_Breakpoint.
func (c *Client) LaunchMPIR(ctx context.Context, argv, env []string, io api.LaunchIO) (*MPIRResponse, error) {
	return c.mpirCall(tagLaunchMPIR, io, func() error {
		return writeLaunchData(c.conn, LaunchData{Path: argv[0], Argv: argv[1:], Env: env})
	})
}

// LaunchMPIRShim is LaunchMPIR for launchers wrapped in a shell script: the
// helper injects a sentinel argv token and the preload shim binary, then
// attaches to whatever pid the shim reports.
func (c *Client) LaunchMPIRShim(ctx context.Context, shim ShimData, argv, env []string, io api.LaunchIO) (*MPIRResponse, error) {
	return c.mpirCall(tagLaunchMPIRShim, io, func() error {
		if err := writeShimData(c.conn, shim); err != nil {
			return err
		}

		return writeLaunchData(c.conn, LaunchData{Path: argv[0], Argv: argv[1:], Env: env})
	})
}

// AttachMPIR asks the helper to attach to an already-running launcher pid
// (resolved from jobID by the caller's driver) and drive it to Stopped.
func (c *Client) AttachMPIR(ctx context.Context, path, pidOrJobHint string) (*MPIRResponse, error) {
	return c.mpirCall(tagAttachMPIR, api.LaunchIO{}, func() error {
		if err := writeString(c.conn, path); err != nil {
			return err
		}

		return writeString(c.conn, pidOrJobHint)
	})
}

func (c *Client) mpirCall(t tag, io api.LaunchIO, writeBody func() error) (*MPIRResponse, error) {
	var resp MPIRResponse

	var fds []int
	if t == tagLaunchMPIR || t == tagLaunchMPIRShim {
		fds = fdsOf(io)
	}

	err := c.call(
		func() error {
			if err := writeTag(c.conn, t); err != nil {
				return err
			}

			return writeBody()
		},
		fds,
		func() error {
			rt, err := readTag(c.r)
			if err != nil {
				return err
			}

			if rt != tagRespMPIR {
				return fmt.Errorf("unexpected response tag %v for MPIR call", rt)
			}

			resp, err = readMPIRResponse(c.r)

			return err
		},
	)
	if err != nil {
		return nil, err
	}

	if !resp.OK {
		return nil, api.NewError(api.KindInferior, "%s", resp.ErrorMsg)
	}

	return &resp, nil
}

// ReleaseMPIR lets a launcher continue past MPIR_Breakpoint.
func (c *Client) ReleaseMPIR(ctx context.Context, inferiorID uint64) error {
	return c.simpleIDCall(tagReleaseMPIR, inferiorID)
}

// ReleaseMPIRByJob is a convenience used by drivers that only track a WLM
// job id string; the helper looks up the matching inferior itself.
func (c *Client) ReleaseMPIRByJob(ctx context.Context, jobID string) error {
	var ok bool

	err := c.call(
		func() error {
			if err := writeTag(c.conn, tagReleaseMPIRByJob); err != nil {
				return err
			}

			return writeString(c.conn, jobID)
		},
		nil,
		func() error {
			t, err := readTag(c.r)
			if err != nil {
				return err
			}

			if t != tagRespOK {
				return fmt.Errorf("unexpected response tag %v", t)
			}

			ok, err = readBool(c.r)

			return err
		},
	)
	if err != nil {
		return err
	}

	if !ok {
		return api.NewError(api.KindInferior, "release of job %s failed", jobID)
	}

	return nil
}

// WaitMPIR releases and blocks until the inferior exits.
func (c *Client) WaitMPIR(ctx context.Context, inferiorID uint64) error {
	return c.simpleIDCall(tagWaitMPIR, inferiorID)
}

// TerminateMPIR detaches (if needed) and kills the inferior's process
// group.
func (c *Client) TerminateMPIR(ctx context.Context, inferiorID uint64) error {
	return c.simpleIDCall(tagTerminateMPIR, inferiorID)
}

func (c *Client) simpleIDCall(t tag, id uint64) error {
	var ok bool

	err := c.call(
		func() error {
			if err := writeTag(c.conn, t); err != nil {
				return err
			}

			return writeUint64(c.conn, id)
		},
		nil,
		func() error {
			rt, err := readTag(c.r)
			if err != nil {
				return err
			}

			if rt != tagRespOK {
				return fmt.Errorf("unexpected response tag %v", rt)
			}

			ok, err = readBool(c.r)

			return err
		},
	)
	if err != nil {
		return err
	}

	if !ok {
		return api.NewError(api.KindHelper, "request failed")
	}

	return nil
}

// DeregisterApp / ReleaseApp remove pid from the cleanup-on-exit set.
func (c *Client) DeregisterApp(ctx context.Context, appID uint64) error {
	return c.simpleIDCall(tagDeregisterApp, appID)
}

func (c *Client) ReleaseApp(ctx context.Context, appID uint64) error {
	return c.simpleIDCall(tagReleaseApp, appID)
}

// CheckApp reports whether appID is still tracked as running by the helper.
func (c *Client) CheckApp(ctx context.Context, appID uint64) (bool, error) {
	var ok bool

	err := c.call(
		func() error {
			if err := writeTag(c.conn, tagCheckApp); err != nil {
				return err
			}

			return writeUint64(c.conn, appID)
		},
		nil,
		func() error {
			t, err := readTag(c.r)
			if err != nil {
				return err
			}

			if t != tagRespOK {
				return fmt.Errorf("unexpected response tag %v", t)
			}

			ok, err = readBool(c.r)

			return err
		},
	)

	return ok, err
}

// Shutdown asks the helper to terminate every tracked process and exit.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeTag(c.conn, tagShutdown); err != nil {
		return api.Wrap(api.KindHelper, err, "sending shutdown")
	}

	return c.conn.Close()
}
