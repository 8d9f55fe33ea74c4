package overwatch

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeString(&buf, "hello world"))

	got, err := readString(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestEmptyStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeString(&buf, ""))

	got, err := readString(&buf)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestStringsSliceRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := []string{"-n", "4", "./a.out", "--flag=value with spaces"}
	require.NoError(t, writeStrings(&buf, in))

	out, err := readStrings(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEmptyStringsSliceRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeStrings(&buf, nil))

	out, err := readStrings(&buf)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReadStringRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUint64(&buf, 1<<40))

	_, err := readString(&buf)
	assert.Error(t, err)
}

func TestUint64RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeUint64(&buf, 0xdeadbeef))

	got, err := readUint64(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), got)
}

func TestBoolRoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		var buf bytes.Buffer
		require.NoError(t, writeBool(&buf, v))

		got, err := readBool(&buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestTagRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTag(&buf, tagLaunchMPIR))

	got, err := readTag(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, tagLaunchMPIR, got)
}

func TestRequestAndResponseTagsNeverCollide(t *testing.T) {
	requests := []tag{
		tagForkExecvpApp, tagForkExecvpUtil, tagLaunchMPIR, tagLaunchMPIRShim,
		tagAttachMPIR, tagReadStringMPIR, tagReleaseMPIR, tagReleaseMPIRByJob,
		tagWaitMPIR, tagTerminateMPIR, tagRegisterApp, tagRegisterUtil,
		tagDeregisterApp, tagReleaseApp, tagCheckApp, tagShutdown,
	}
	responses := []tag{tagRespOK, tagRespID, tagRespString, tagRespMPIR}

	for _, req := range requests {
		for _, resp := range responses {
			assert.NotEqual(t, req, resp)
		}
	}
}

func TestReadStringFromTruncatedStreamErrors(t *testing.T) {
	r := strings.NewReader("short")
	_, err := readString(r)
	assert.Error(t, err)
}
