package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/mediaforge/mediaforge/internal/config"
	"github.com/mediaforge/mediaforge/internal/ffmpeg"
	"github.com/mediaforge/mediaforge/internal/profiles"
	"github.com/stretchr/testify/assert"
)

func TestExpandName(t *testing.T) {
	assert.Equal(t, "movie-h264-1080p.mkv", ExpandName("", "movie", "h264-1080p", ".mkv"))
	assert.Equal(t, "h264-1080p/movie.mp4", ExpandName("{{profile}}/{{base}}{{ext}}", "movie", "h264-1080p", ".mp4"))
	assert.Equal(t, "static-name.mkv", ExpandName("static-name.mkv", "movie", "p", ".mp4"))
}

func testCategory() config.CategoryConfig {
	return config.CategoryConfig{
		VideoCodec:   "libx264",
		AudioCodec:   "copy",
		NameTemplate: "{{base}}-{{profile}}{{ext}}",
		Extension:    ".mkv",
		ExtraParams: config.ExtraParams{
			Output: []string{"-max_muxing_queue_size", "1024"},
		},
	}
}

func TestOutputArgs_MapsAndExclusions(t *testing.T) {
	rp := &profiles.ResolvedProfile{
		Name:   "h264-720p",
		Data:   map[string]float64{"scaled_width": 1280, "scaled_height": 720},
		Params: []string{"-vf", "scale=1280:720", "-preset", "medium"},
	}
	video := &ffmpeg.ProbeStream{CodecType: "video", Width: 1920, Height: 1080}
	excluded := []ffmpeg.ProbeStream{
		{Index: 2, CodecType: "audio"},
		{Index: 4, CodecType: "subtitle"},
	}

	args := outputArgs(testCategory(), rp, video, excluded)
	joined := strings.Join(args, " ")

	assert.True(t, strings.HasPrefix(joined, "-map 0 -map -0:2 -map -0:4 "))
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-c:a copy -c:s copy")
	assert.Contains(t, joined, "-max_muxing_queue_size 1024")
	assert.Contains(t, joined, "-vf scale=1280:720")
}

func TestOutputArgs_CopyOnExactGeometry(t *testing.T) {
	rp := &profiles.ResolvedProfile{
		Name:   "h264-1080p",
		Data:   map[string]float64{"scaled_width": 1920, "scaled_height": 1080},
		Params: []string{"-vf", "scale=1920:1080", "-preset", "medium"},
	}
	video := &ffmpeg.ProbeStream{CodecType: "video", Width: 1920, Height: 1080}

	args := outputArgs(testCategory(), rp, video, nil)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-c:v copy")
	// Filters cannot apply to a copied stream; the rest of the params stay.
	assert.NotContains(t, joined, "-vf")
	assert.Contains(t, joined, "-preset medium")
}

func TestOutputArgs_NearMissGeometryStillEncodes(t *testing.T) {
	// 1918x1080 is not 1920x1080; no approximate matching.
	rp := &profiles.ResolvedProfile{
		Name: "h264-1080p",
		Data: map[string]float64{"scaled_width": 1920, "scaled_height": 1080},
	}
	video := &ffmpeg.ProbeStream{CodecType: "video", Width: 1918, Height: 1080}

	args := outputArgs(testCategory(), rp, video, nil)
	assert.Contains(t, strings.Join(args, " "), "-c:v libx264")
}

func TestOutputArgs_ProfileCodecOverride(t *testing.T) {
	rp := &profiles.ResolvedProfile{
		Name:       "vaapi-720p",
		VideoCodec: "h264_vaapi",
		Data:       map[string]float64{"scaled_width": 1280, "scaled_height": 720},
	}
	video := &ffmpeg.ProbeStream{CodecType: "video", Width: 1920, Height: 1080}

	args := outputArgs(testCategory(), rp, video, nil)
	assert.Contains(t, strings.Join(args, " "), "-c:v h264_vaapi")
}

func TestWantsVAAPI(t *testing.T) {
	cat := testCategory()
	assert.False(t, wantsVAAPI(cat, []*profiles.ResolvedProfile{{Name: "sw"}}))
	assert.True(t, wantsVAAPI(cat, []*profiles.ResolvedProfile{{Name: "hw", VideoCodec: "hevc_vaapi"}}))

	cat.VideoCodec = "h264_vaapi"
	assert.True(t, wantsVAAPI(cat, nil))
}

func TestEffectiveVideoCodec(t *testing.T) {
	cat := testCategory()
	assert.Equal(t, "libx264", effectiveVideoCodec(cat, []*profiles.ResolvedProfile{{Name: "sw"}}))
	assert.Equal(t, "h264_vaapi", effectiveVideoCodec(cat, []*profiles.ResolvedProfile{
		{Name: "sw"},
		{Name: "hw", VideoCodec: "h264_vaapi"},
	}))
}

func TestThrottle(t *testing.T) {
	current := time.Unix(1000, 0)
	th := newThrottle(5 * time.Second)
	th.now = func() time.Time { return current }

	assert.True(t, th.allow())
	assert.False(t, th.allow())

	current = current.Add(3 * time.Second)
	assert.False(t, th.allow())

	current = current.Add(2 * time.Second)
	assert.True(t, th.allow())

	// Zero interval never throttles.
	unthrottled := newThrottle(0)
	assert.True(t, unthrottled.allow())
	assert.True(t, unthrottled.allow())
}

func TestProcessingError(t *testing.T) {
	probe := &ffmpeg.ProbeResult{}
	err := newError(StageEncode, probe, assert.AnError)

	assert.Contains(t, err.Error(), "encode")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Same(t, probe, err.Probe)
}
