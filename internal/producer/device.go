package producer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zsiec/playout/internal/media"
)

// DeviceScheme prefixes locators that name a capture device by number.
const DeviceScheme = "device://"

// DeviceOptions select how capture devices are opened.
type DeviceOptions struct {
	// InputFormat is the capture backend, e.g. "v4l2".
	InputFormat string
	// PathTemplate turns a device number into a path, e.g. "/dev/video%d".
	PathTemplate string
}

// DeviceProducer plays a live capture device. It cannot seek or loop.
type DeviceProducer struct {
	*source
	channel int
	device  DeviceOptions
}

// NewDeviceProducer creates an uninitialised DeviceProducer for device
// channel.
func NewDeviceProducer(channel int, params media.LoadParameters, opts Options, device DeviceOptions) *DeviceProducer {
	return &DeviceProducer{
		source:  newSource("device", params, opts),
		channel: channel,
		device:  device,
	}
}

// Initialise opens the device. A missing device fails with
// KindNotRecognized.
func (p *DeviceProducer) Initialise(ctx context.Context, props media.ChannelProperties) error {
	options := media.OpenOptions{InputFormat: p.device.InputFormat, Options: p.opts.OpenOptions.Options}
	return p.initialise(ctx, props, openSpec{
		locator: fmt.Sprintf(p.device.PathTemplate, p.channel),
		options: options,
	})
}

// deviceChannel extracts the device number from params.
func deviceChannel(params media.LoadParameters) (int, error) {
	if params.DeviceChannel != nil {
		return *params.DeviceChannel, nil
	}
	rest, ok := strings.CutPrefix(params.Locator, DeviceScheme)
	if !ok {
		return 0, errors.New("not a device locator")
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid device number %q", rest)
	}
	return n, nil
}

type deviceFactory struct {
	opts   Options
	device DeviceOptions
}

// NewDeviceFactory returns the factory named "device".
func NewDeviceFactory(opts Options, device DeviceOptions) Factory {
	return deviceFactory{opts: opts, device: device}
}

func (f deviceFactory) Name() string { return "device" }

func (f deviceFactory) Create(params media.LoadParameters) (Producer, error) {
	n, err := deviceChannel(params)
	if err != nil {
		return nil, notRecognized("create device producer", err)
	}
	return NewDeviceProducer(n, params, f.opts, f.device), nil
}
