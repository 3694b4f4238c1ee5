package producer

import (
	"fmt"
	"strings"

	"github.com/zsiec/playout/internal/media"
)

// silenceInput names the single graph input of the silent audio leg.
const silenceInput = "silence"

// audioOutputFilters converts whatever the merge produced to the fixed
// output format, re-chunked to fixed-size frames.
var audioOutputFilters = fmt.Sprintf(
	"aresample=%d,aformat=sample_fmts=%s:channel_layouts=%s:sample_rates=%d,asetnsamples=n=%d:p=0",
	media.OutputSampleRate, media.OutputSampleFormat, media.OutputChannelLayout,
	media.OutputSampleRate, media.OutputFrameSize)

// planAudio builds the merge graph for the selected audio streams. Inputs are
// named a0..aN-1 in stream order. When every input is mono, each one is
// panned to its own speaker position before merging so they do not collide.
func planAudio(streams []media.StreamInfo) media.AudioGraphSpec {
	spec := outputAudioSpec()
	allMono := len(streams) > 0
	for i, s := range streams {
		spec.Inputs = append(spec.Inputs, media.AudioInput{Name: fmt.Sprintf("a%d", i), Stream: s})
		if !s.Mono() {
			allMono = false
		}
	}

	var b strings.Builder
	labels := make([]string, len(spec.Inputs))
	for i, in := range spec.Inputs {
		labels[i] = "[" + in.Name + "]"
		if allMono {
			pos := media.OutputSpeakerPositions[i%len(media.OutputSpeakerPositions)]
			fmt.Fprintf(&b, "[%s]pan=%s|c0=c0[p%d];", in.Name, pos, i)
			labels[i] = fmt.Sprintf("[p%d]", i)
		}
	}
	b.WriteString(strings.Join(labels, ""))
	if len(labels) > 1 {
		fmt.Fprintf(&b, "amerge=inputs=%d,", len(labels))
	}
	b.WriteString(audioOutputFilters)
	b.WriteString("[out]")

	spec.Description = b.String()
	return spec
}

// planSilence builds the pass-through graph the silent template is run
// through when a source has no audio.
func planSilence() media.AudioGraphSpec {
	spec := outputAudioSpec()
	tmpl := media.SilentFrame(0)
	spec.Inputs = []media.AudioInput{{
		Name: silenceInput,
		Stream: media.StreamInfo{
			Type:          media.MediaTypeAudio,
			TimeBase:      tmpl.TimeBase,
			SampleRate:    tmpl.SampleRate,
			Channels:      tmpl.Channels,
			ChannelLayout: tmpl.ChannelLayout,
			SampleFormat:  tmpl.SampleFormat,
		},
	}}
	spec.Description = "[" + silenceInput + "]anull[out]"
	return spec
}

func outputAudioSpec() media.AudioGraphSpec {
	return media.AudioGraphSpec{
		SampleRate:    media.OutputSampleRate,
		Channels:      media.OutputChannels,
		ChannelLayout: media.OutputChannelLayout,
		SampleFormat:  media.OutputSampleFormat,
		FrameSize:     media.OutputFrameSize,
	}
}
