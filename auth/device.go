package auth

import (
	"context"

	"totari/model"
)

// Device signs in anonymously as the local device. Any credentials are accepted.
type Device struct {
	DeviceID string
}

func NewDevice(deviceID string) *Device {
	return &Device{DeviceID: deviceID}
}

func (d *Device) Name() string { return "device" }

func (d *Device) SignIn(_ context.Context, email, _ string) (*model.User, error) {
	name := email
	if name == "" {
		name = "desktop"
	}
	return &model.User{
		ID:          d.DeviceID,
		Email:       email,
		DisplayName: name,
		CreatedAt:   model.NowMillis(),
	}, nil
}
