// Package streamfilter decides which source streams are dropped from a
// transcode. Audio and subtitle streams are retained by the customer's
// per-kind schemas, extra video streams are dropped when the target
// hardware encoder cannot carry their codec, and an operator-wide exclude
// schema removes streams of any kind.
package streamfilter

import (
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/language"

	"github.com/mediaforge/mediaforge/internal/ffmpeg"
	"github.com/mediaforge/mediaforge/internal/models"
)

// Filter computes stream exclusion sets.
type Filter struct {
	// exclude is the operator-wide exclusion schema. Streams matching it
	// are dropped regardless of customer policy.
	exclude *models.StreamSchema
	logger  *slog.Logger
}

// New creates a filter with an optional global exclude schema.
func New(exclude *models.StreamSchema, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{exclude: exclude, logger: logger}
}

// Excluded returns the streams to drop, de-duplicated and ordered by
// stream index. videoCodec is the encoder the output will use; caps may be
// nil when capability information is unavailable.
func (f *Filter) Excluded(streams []ffmpeg.ProbeStream, filters models.StreamFilters, videoCodec string, caps *ffmpeg.Capabilities) []ffmpeg.ProbeStream {
	excluded := make(map[int]ffmpeg.ProbeStream)

	f.retainByKind(streams, "audio", filters.Audio, excluded)
	f.retainByKind(streams, "subtitle", filters.Subtitle, excluded)
	f.dropUnsupportedVideo(streams, videoCodec, caps, excluded)
	f.applyGlobalExclude(streams, excluded)

	result := make([]ffmpeg.ProbeStream, 0, len(excluded))
	for _, s := range excluded {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result
}

// retainByKind excludes streams of one kind that do not satisfy the
// customer's schema. If that would drop every stream of the kind, nothing
// is dropped and a warning is logged instead.
func (f *Filter) retainByKind(streams []ffmpeg.ProbeStream, kind string, schema *models.StreamSchema, excluded map[int]ffmpeg.ProbeStream) {
	if schema.IsEmpty() {
		return
	}

	var ofKind, dropped []ffmpeg.ProbeStream
	for _, s := range streams {
		if s.CodecType != kind {
			continue
		}
		ofKind = append(ofKind, s)
		// Untagged streams are never dropped by a retention schema: there
		// is nothing to match the schema against.
		if len(s.Tags) == 0 {
			continue
		}
		if !matches(&s, schema) {
			dropped = append(dropped, s)
		}
	}

	if len(ofKind) > 0 && len(dropped) == len(ofKind) {
		f.logger.Warn("retention schema would exclude every stream, keeping all",
			slog.String("kind", kind),
			slog.Int("streams", len(ofKind)),
		)
		return
	}

	for _, s := range dropped {
		excluded[s.Index] = s
	}
}

// dropUnsupportedVideo excludes secondary video streams whose codec family
// the target hardware encoder report does not cover. Typical case: an
// embedded mjpeg thumbnail that a vaapi pipeline cannot pass through.
func (f *Filter) dropUnsupportedVideo(streams []ffmpeg.ProbeStream, videoCodec string, caps *ffmpeg.Capabilities, excluded map[int]ffmpeg.ProbeStream) {
	if !ffmpeg.IsHardwareEncoder(videoCodec) || caps == nil {
		return
	}

	video := make([]ffmpeg.ProbeStream, 0, 2)
	for _, s := range streams {
		if s.CodecType == "video" {
			video = append(video, s)
		}
	}
	if len(video) < 2 {
		return
	}

	for _, s := range video[1:] {
		if !caps.SupportsCodecFamily(s.CodecName) {
			f.logger.Debug("dropping extra video stream unsupported by encoder",
				slog.Int("index", s.Index),
				slog.String("codec", s.CodecName),
				slog.String("encoder", videoCodec),
			)
			excluded[s.Index] = s
		}
	}
}

// applyGlobalExclude drops any stream matching the operator-wide schema.
func (f *Filter) applyGlobalExclude(streams []ffmpeg.ProbeStream, excluded map[int]ffmpeg.ProbeStream) {
	if f.exclude.IsEmpty() {
		return
	}
	for _, s := range streams {
		if matches(&s, f.exclude) {
			f.logger.Info("stream matches global exclude schema",
				slog.Int("index", s.Index),
				slog.String("type", s.CodecType),
				slog.String("codec", s.CodecName),
			)
			excluded[s.Index] = s
		}
	}
}

// matches reports whether a stream satisfies a schema: any tag value
// containing one of the schema's substrings, a matching language tag, or a
// listed codec name.
func matches(s *ffmpeg.ProbeStream, schema *models.StreamSchema) bool {
	for _, term := range schema.Contains {
		for _, value := range s.Tags {
			if strings.Contains(value, term) {
				return true
			}
		}
	}

	if lang := s.Language(); lang != "" {
		if streamTag, err := language.Parse(lang); err == nil {
			streamBase, _ := streamTag.Base()
			for _, tag := range schema.LanguageTags() {
				base, _ := tag.Base()
				if base == streamBase {
					return true
				}
			}
		}
	}

	for _, codec := range schema.Codecs {
		if strings.EqualFold(codec, s.CodecName) {
			return true
		}
	}

	return false
}
