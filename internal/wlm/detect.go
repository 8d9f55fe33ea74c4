package wlm

import (
	"os"
	"os/exec"

	"github.com/common-tools-interface/cti/shared/api"
	"github.com/common-tools-interface/cti/shared/logger"
)

// Detect picks the WLM type for this process, honoring CTI_WLM_IMPL before
// falling back to runtime probes of the environment variables each WLM's
// job-launcher process sets on compute nodes / allocation front-ends.
func Detect() api.WLMType {
	if v := os.Getenv("CTI_WLM_IMPL"); v != "" {
		t := api.ParseWLMType(v)
		if t != api.WLMUnknown {
			logger.Debugf("wlm: forced to %s via CTI_WLM_IMPL", t)
			return t
		}

		logger.Warnf("wlm: CTI_WLM_IMPL=%q not recognized, falling back to probes", v)
	}

	switch {
	case os.Getenv("SLURM_JOB_ID") != "", os.Getenv("SLURM_JOBID") != "", lookPath("srun"):
		return api.WLMSlurm
	case os.Getenv("PALS_APID") != "", lookPath("mpiexec") && lookPath("palstat"):
		return api.WLMPALS
	case os.Getenv("FLUX_URI") != "", lookPath("flux"):
		return api.WLMFlux
	case os.Getenv("ALPS_APP_ID") != "", lookPath("aprun"):
		return api.WLMALPS
	default:
		return api.WLMSSH
	}
}

func lookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
