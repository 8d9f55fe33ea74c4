package backend

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/common-tools-interface/cti/shared/api"
)

// Env names a tool daemon's exec environment is populated with by the WLM
// driver before exec_tool_daemon starts it.
const (
	envWLM         = "CTI_WLM_IMPL"
	envAppID       = "CTI_APP_ID"
	envSandboxRoot = "CTI_SANDBOX_ROOT"
	envPMIAttribs  = "CTI_PMI_ATTRIBS_FILE"
	envPMITimeout  = "CTI_PMI_FOPEN_TIMEOUT"
	envExtraSleep  = "CTI_EXTRA_SLEEP"
	envLayoutFile  = "CTI_LAYOUT_FILE"
)

// CurrentWLM reports the WLM type the launching Frontend recorded for this
// App, read from the daemon's own environment (be_current_wlm).
func CurrentWLM() api.WLMType {
	return api.ParseWLMType(os.Getenv(envWLM))
}

// GetAppID returns this daemon's owning App id (be_get_app_id).
func GetAppID() (api.AppID, error) {
	v := os.Getenv(envAppID)
	if v == "" {
		return 0, api.NewError(api.KindEnv, "%s not set in daemon environment", envAppID)
	}

	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, api.Wrap(api.KindEnv, err, "parsing %s=%q", envAppID, v)
	}

	return api.AppID(n), nil
}

// FindAppPIDs returns the (rank, pid) pairs local to this node, read from
// the PMI attributes file (be_find_app_pids). The attributes file is
// written by the WLM's own PMI implementation asynchronously with respect
// to daemon startup, so a missing file is retried with backoff for up to
// CTI_PMI_FOPEN_TIMEOUT seconds (default 5) before failing.
func FindAppPIDs() ([]api.RankPID, error) {
	path := os.Getenv(envPMIAttribs)
	if path == "" {
		return nil, api.NewError(api.KindEnv, "%s not set in daemon environment", envPMIAttribs)
	}

	if s := os.Getenv(envExtraSleep); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			time.Sleep(time.Duration(secs) * time.Second)
		}
	}

	timeout := 5 * time.Second
	if s := os.Getenv(envPMITimeout); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	var f *os.File

	op := func() error {
		var err error
		f, err = os.Open(path)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout

	if err := backoff.Retry(op, b); err != nil {
		return nil, api.Wrap(api.KindEnv, err, "opening PMI attributes file %q", path)
	}
	defer f.Close()

	return parseAttribs(f)
}

// parseAttribs reads "rank pid" pairs, one per line, the format the WLM's
// PMI attribute writer uses.
func parseAttribs(f *os.File) ([]api.RankPID, error) {
	var out []api.RankPID

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}

		rank, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}

		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}

		out = append(out, api.RankPID{Rank: rank, PID: pid})
	}

	return out, scanner.Err()
}

// GetNodeHostname returns this node's hostname (be_get_node_hostname).
func GetNodeHostname() (string, error) {
	return os.Hostname()
}

// GetNodeFirstPE and GetNodePEs answer from the layout file written by the
// frontend (WriteLayoutFile), matching this node's hostname to its record.
func currentNodeLayout() (*LayoutEntry, error) {
	path := os.Getenv(envLayoutFile)
	if path == "" {
		return nil, api.NewError(api.KindEnv, "%s not set in daemon environment", envLayoutFile)
	}

	entries, err := ReadLayoutFile(path)
	if err != nil {
		return nil, err
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if entries[i].Host == host || strings.HasPrefix(host, entries[i].Host) {
			return &entries[i], nil
		}
	}

	return nil, api.NewError(api.KindEnv, "hostname %q not found in layout file %q", host, path)
}

// GetNodeFirstPE returns the first PE/rank resident on this node
// (be_get_node_first_pe).
func GetNodeFirstPE() (int, error) {
	e, err := currentNodeLayout()
	if err != nil {
		return 0, err
	}

	return int(e.FirstPE), nil
}

// GetNodePEs returns the number of PEs/ranks resident on this node
// (be_get_node_pes).
func GetNodePEs() (int, error) {
	e, err := currentNodeLayout()
	if err != nil {
		return 0, err
	}

	return int(e.PEsHere), nil
}

// sandboxRoot resolves the per-node sandbox root, honoring
// CTI_BACKEND_TMPDIR's override of the compute-node staging root ahead of
// the driver-provided CTI_SANDBOX_ROOT.
func sandboxRoot() string {
	if v := os.Getenv("CTI_BACKEND_TMPDIR"); v != "" {
		return v
	}

	return os.Getenv(envSandboxRoot)
}

// Path accessors mirroring the sandbox layout ("<sandbox_root>/{bin,lib,tmp}").
func BinDir() string  { return join(sandboxRoot(), "bin") }
func LibDir() string  { return join(sandboxRoot(), "lib") }
func FileDir() string { return sandboxRoot() }
func TmpDir() string  { return join(sandboxRoot(), "tmp") }

func join(root, sub string) string {
	if root == "" {
		return ""
	}

	if strings.HasSuffix(root, "/") {
		return root + sub
	}

	return root + "/" + sub
}
