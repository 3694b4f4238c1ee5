package media

// MediaType classifies a stream or frame.
type MediaType int

// Stream media types.
const (
	MediaTypeUnknown MediaType = iota
	MediaTypeAudio
	MediaTypeVideo
	MediaTypeSubtitle
	MediaTypeData
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	case MediaTypeSubtitle:
		return "subtitle"
	case MediaTypeData:
		return "data"
	default:
		return "unknown"
	}
}

// StreamInfo describes one elementary stream discovered in a source.
type StreamInfo struct {
	Index    int
	Type     MediaType
	Codec    string
	TimeBase Rational

	// Video.
	Width             int
	Height            int
	PixelFormat       PixelFormat
	FrameRate         Rational
	SampleAspectRatio Rational

	// Audio.
	SampleRate    int
	Channels      int
	ChannelLayout string
	SampleFormat  string

	// Opaque carries backend codec parameters for the matching decoder.
	Opaque any
}

// Mono reports whether the stream is a single-channel audio stream.
func (s StreamInfo) Mono() bool {
	return s.Type == MediaTypeAudio && s.Channels == 1
}
