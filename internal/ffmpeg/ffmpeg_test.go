package ffmpeg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFramerate(t *testing.T) {
	assert.InDelta(t, 29.97, parseFramerate("30000/1001"), 0.01)
	assert.InDelta(t, 25.0, parseFramerate("25/1"), 0.001)
	assert.InDelta(t, 23.976, parseFramerate("23.976"), 0.001)
	assert.Zero(t, parseFramerate("0/0"))
	assert.Zero(t, parseFramerate("garbage"))
}

func TestProbeResult_TotalFrames(t *testing.T) {
	t.Run("explicit frame count", func(t *testing.T) {
		r := &ProbeResult{
			Streams: []ProbeStream{
				{CodecType: "video", NumFrames: "3000"},
			},
		}
		assert.Equal(t, int64(3000), r.TotalFrames())
	})

	t.Run("derived from duration and framerate", func(t *testing.T) {
		r := &ProbeResult{
			Format: ProbeFormat{Duration: "120.0"},
			Streams: []ProbeStream{
				{CodecType: "video", AvgFrameRate: "25/1"},
			},
		}
		assert.Equal(t, int64(3000), r.TotalFrames())
	})

	t.Run("no video stream", func(t *testing.T) {
		r := &ProbeResult{
			Streams: []ProbeStream{{CodecType: "audio"}},
		}
		assert.Zero(t, r.TotalFrames())
	})
}

func TestProbeResult_GetStreamsByType(t *testing.T) {
	r := &ProbeResult{
		Streams: []ProbeStream{
			{Index: 0, CodecType: "video"},
			{Index: 1, CodecType: "audio"},
			{Index: 2, CodecType: "audio"},
			{Index: 3, CodecType: "subtitle"},
		},
	}

	assert.Len(t, r.GetStreamsByType("audio"), 2)
	assert.Len(t, r.GetStreamsByType("subtitle"), 1)
	require.NotNil(t, r.GetVideoStream())
	assert.Equal(t, 0, r.GetVideoStream().Index)
}

func TestCommandBuilder_MultiOutput(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Stats().
		Overwrite().
		ProbeSize("10M").
		Input("/pending/in.mkv").
		AddOutput("/out/a.mp4", "-map", "0", "-c:v", "libx264").
		AddOutput("/out/b.mp4", "-map", "0", "-c:v", "copy").
		Build()

	joined := strings.Join(cmd.Args, " ")
	assert.Equal(t, "-v warning -hide_banner -stats -y -probesize 10M -i /pending/in.mkv "+
		"-map 0 -c:v libx264 /out/a.mp4 -map 0 -c:v copy /out/b.mp4", joined)
	assert.Equal(t, []string{"/out/a.mp4", "/out/b.mp4"}, cmd.Outputs)
}

func TestCommandBuilder_HWAccelFlags(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		HWAccel("vaapi").
		HWAccelOutputFormat("vaapi").
		VAAPIDevice("/dev/dri/renderD128").
		Input("in.mkv").
		AddOutput("out.mp4").
		Build()

	joined := strings.Join(cmd.Args, " ")
	assert.Contains(t, joined, "-hwaccel vaapi -hwaccel_output_format vaapi -vaapi_device /dev/dri/renderD128")

	// "none" is elided entirely.
	cmd = NewCommandBuilder("ffmpeg").HWAccel("none").Input("in.mkv").AddOutput("out.mp4").Build()
	assert.NotContains(t, strings.Join(cmd.Args, " "), "hwaccel")
}

func TestCommand_ParseProgress(t *testing.T) {
	stderr := strings.NewReader(
		"frame=  100 fps= 25.0 q=28.0 size=    1024kB time=00:00:04.00 bitrate=2097.2kbits/s speed=1.25x\n" +
			"frame=  200 fps= 25.0 q=28.0 size=    2048kB time=00:00:08.00 bitrate=2097.2kbits/s speed=1.30x\n" +
			"[libx264 @ 0x55] some diagnostic line\n",
	)

	ch := make(chan Progress, 8)
	cmd := &Command{}
	tail := cmd.parseProgress(stderr, ch)
	close(ch)

	var last Progress
	var count int
	for p := range ch {
		last = p
		count++
	}

	require.Equal(t, 2, count)
	assert.Equal(t, int64(200), last.Frame)
	assert.Equal(t, 8*time.Second, last.Time)
	assert.InDelta(t, 1.30, last.Speed, 0.001)

	// Non-stats lines are retained for diagnostics.
	require.Len(t, tail, 1)
	assert.Contains(t, tail[0], "libx264")
}

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D h264_vaapi           H.264/AVC (VAAPI)
 V....D mjpeg                MJPEG (Motion JPEG)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestParseEncoders(t *testing.T) {
	caps := ParseEncoders(encodersOutput)

	assert.True(t, caps.HasEncoder("libx264"))
	assert.True(t, caps.HasEncoder("h264_vaapi"))
	assert.True(t, caps.HasEncoder("aac"))
	assert.False(t, caps.HasEncoder("hevc_nvenc"))

	assert.True(t, caps.SupportsCodecFamily("mjpeg"))
	assert.True(t, caps.SupportsCodecFamily("h264"))
	assert.False(t, caps.SupportsCodecFamily("png"))
	assert.False(t, caps.SupportsCodecFamily(""))
}

func TestFindBinary(t *testing.T) {
	// An explicit config path wins without being checked.
	path, err := FindBinary("/opt/ffmpeg/bin/ffmpeg", "ffmpeg")
	require.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", path)

	// Empty config falls back to PATH and surfaces a lookup failure.
	_, err = FindBinary("", "no-such-transcoder-binary")
	assert.Error(t, err)
}

func TestIsHardwareEncoder(t *testing.T) {
	assert.True(t, IsHardwareEncoder("h264_vaapi"))
	assert.True(t, IsHardwareEncoder("hevc_nvenc"))
	assert.False(t, IsHardwareEncoder("libx264"))
	assert.False(t, IsHardwareEncoder("aac"))
}
