package overwatch

import "io"

// LaunchData is the payload of ForkExecvpApp/ForkExecvpUtil/LaunchMPIR:
// everything the helper needs to fork+exec a process on the Frontend's
// behalf. The three standard fds are never part of this struct's wire
// encoding: they travel out-of-band via SCM_RIGHTS on the same socket.
type LaunchData struct {
	Path string
	Argv []string
	Env  []string
}

func writeLaunchData(w io.Writer, ld LaunchData) error {
	if err := writeString(w, ld.Path); err != nil {
		return err
	}

	if err := writeStrings(w, ld.Argv); err != nil {
		return err
	}

	return writeStrings(w, ld.Env)
}

func readLaunchData(r io.Reader) (LaunchData, error) {
	var ld LaunchData

	var err error
	if ld.Path, err = readString(r); err != nil {
		return ld, err
	}

	if ld.Argv, err = readStrings(r); err != nil {
		return ld, err
	}

	if ld.Env, err = readStrings(r); err != nil {
		return ld, err
	}

	return ld, nil
}

// ShimData is the extra payload for LaunchMPIRShim: the sentinel argument
// injected so the MPIR shim preload program can recognize its own launch
// and the path to that preload binary.
type ShimData struct {
	Sentinel  string
	ShimPath  string
}

func writeShimData(w io.Writer, sd ShimData) error {
	if err := writeString(w, sd.Sentinel); err != nil {
		return err
	}

	return writeString(w, sd.ShimPath)
}

func readShimData(r io.Reader) (ShimData, error) {
	var sd ShimData

	var err error
	if sd.Sentinel, err = readString(r); err != nil {
		return sd, err
	}

	if sd.ShimPath, err = readString(r); err != nil {
		return sd, err
	}

	return sd, nil
}
