package streamfilter

import (
	"testing"

	"github.com/mediaforge/mediaforge/internal/ffmpeg"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStreams() []ffmpeg.ProbeStream {
	return []ffmpeg.ProbeStream{
		{Index: 0, CodecType: "video", CodecName: "h264"},
		{Index: 1, CodecType: "audio", CodecName: "aac", Tags: map[string]string{"language": "eng", "title": "English 5.1"}},
		{Index: 2, CodecType: "audio", CodecName: "ac3", Tags: map[string]string{"language": "fre", "title": "French"}},
		{Index: 3, CodecType: "subtitle", CodecName: "subrip", Tags: map[string]string{"language": "eng", "title": "English"}},
		{Index: 4, CodecType: "subtitle", CodecName: "subrip", Tags: map[string]string{"language": "ger", "title": "German"}},
	}
}

func indices(streams []ffmpeg.ProbeStream) []int {
	out := make([]int, len(streams))
	for i, s := range streams {
		out[i] = s.Index
	}
	return out
}

func TestFilter_RetentionByContains(t *testing.T) {
	f := New(nil, nil)

	filters := models.StreamFilters{
		Audio:    &models.StreamSchema{Contains: []string{"English"}},
		Subtitle: &models.StreamSchema{Contains: []string{"English"}},
	}

	excluded := f.Excluded(testStreams(), filters, "libx264", nil)
	assert.Equal(t, []int{2, 4}, indices(excluded))
}

func TestFilter_RetentionByLanguage(t *testing.T) {
	f := New(nil, nil)

	// "en" matches the stream's "eng" tag through BCP 47 base comparison.
	filters := models.StreamFilters{
		Audio: &models.StreamSchema{Languages: []string{"en"}},
	}

	excluded := f.Excluded(testStreams(), filters, "libx264", nil)
	assert.Equal(t, []int{2}, indices(excluded))
}

func TestFilter_KeepAllWhenSchemaDropsEverything(t *testing.T) {
	f := New(nil, nil)

	filters := models.StreamFilters{
		Audio: &models.StreamSchema{Contains: []string{"Klingon"}},
	}

	// Both audio streams fail the schema, so neither is dropped.
	excluded := f.Excluded(testStreams(), filters, "libx264", nil)
	assert.Empty(t, excluded)
}

func TestFilter_UntaggedStreamsSurviveRetention(t *testing.T) {
	f := New(nil, nil)

	streams := []ffmpeg.ProbeStream{
		{Index: 0, CodecType: "video", CodecName: "h264"},
		{Index: 1, CodecType: "audio", CodecName: "aac"},
		{Index: 2, CodecType: "audio", CodecName: "ac3", Tags: map[string]string{"title": "Commentary"}},
	}
	filters := models.StreamFilters{
		Audio: &models.StreamSchema{Contains: []string{"English"}},
	}

	excluded := f.Excluded(streams, filters, "libx264", nil)
	assert.Equal(t, []int{2}, indices(excluded))
}

func TestFilter_UnsupportedExtraVideo(t *testing.T) {
	f := New(nil, nil)

	streams := append(testStreams(),
		ffmpeg.ProbeStream{Index: 5, CodecType: "video", CodecName: "mjpeg", Disposition: ffmpeg.ProbeDisposition{AttachedPic: 1}},
	)

	caps := capsWith(t, "h264_vaapi", "hevc_vaapi")

	t.Run("hardware encoder without mjpeg support", func(t *testing.T) {
		excluded := f.Excluded(streams, models.StreamFilters{}, "h264_vaapi", caps)
		assert.Equal(t, []int{5}, indices(excluded))
	})

	t.Run("software encoder keeps extra video", func(t *testing.T) {
		excluded := f.Excluded(streams, models.StreamFilters{}, "libx264", caps)
		assert.Empty(t, excluded)
	})

	t.Run("no capability report keeps extra video", func(t *testing.T) {
		excluded := f.Excluded(streams, models.StreamFilters{}, "h264_vaapi", nil)
		assert.Empty(t, excluded)
	})
}

func TestFilter_GlobalExcludeSchema(t *testing.T) {
	f := New(&models.StreamSchema{Codecs: []string{"subrip"}}, nil)

	excluded := f.Excluded(testStreams(), models.StreamFilters{}, "libx264", nil)
	assert.Equal(t, []int{3, 4}, indices(excluded))
}

func TestFilter_Deduplication(t *testing.T) {
	// Subtitle 4 fails retention AND matches the global exclude; it must
	// appear once.
	f := New(&models.StreamSchema{Contains: []string{"German"}}, nil)

	filters := models.StreamFilters{
		Subtitle: &models.StreamSchema{Contains: []string{"English"}},
	}

	excluded := f.Excluded(testStreams(), filters, "libx264", nil)
	assert.Equal(t, []int{4}, indices(excluded))
}

// capsWith builds a capability report from an encoder list.
func capsWith(t *testing.T, encoders ...string) *ffmpeg.Capabilities {
	t.Helper()
	listing := "Encoders:\n ------\n"
	for _, e := range encoders {
		listing += " V....D " + e + "              test encoder\n"
	}
	caps := ffmpeg.ParseEncoders(listing)
	require.NotNil(t, caps)
	return caps
}
