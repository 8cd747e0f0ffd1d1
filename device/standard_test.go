package device

import (
	"errors"
	"testing"

	"github.com/ardnew/softftdi/pkg"
)

// addressedDevice returns a test device in the Address state.
func addressedDevice(t *testing.T) (*Device, *StandardRequestHandler) {
	t.Helper()
	dev := buildTestDevice(t, nil)
	dev.Reset()
	if err := dev.SetAddress(3); err != nil {
		t.Fatal(err)
	}
	return dev, NewStandardRequestHandler(dev)
}

func TestStandardGetDescriptor(t *testing.T) {
	_, h := addressedDevice(t)

	tests := []struct {
		name     string
		descType uint8
		index    uint8
		length   uint16
		wantLen  int
		wantErr  error
	}{
		{"device", DescriptorTypeDevice, 0, 18, 18, nil},
		{"device truncated", DescriptorTypeDevice, 0, 8, 8, nil},
		{"configuration header", DescriptorTypeConfiguration, 0, 9, 9, nil},
		{"configuration full", DescriptorTypeConfiguration, 0, 255, 32, nil},
		{"configuration missing", DescriptorTypeConfiguration, 1, 255, 0, pkg.ErrInvalidRequest},
		{"languages", DescriptorTypeString, 0, 255, 4, nil},
		{"product", DescriptorTypeString, 2, 255, 14, nil},
		{"string missing", DescriptorTypeString, 7, 255, 0, pkg.ErrInvalidRequest},
		{"qualifier", DescriptorTypeDeviceQualifier, 0, 10, 0, pkg.ErrNotSupported},
		{"unknown", 0x30, 0, 10, 0, pkg.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s SetupPacket
			GetDescriptorSetup(&s, tt.descType, tt.index, tt.length)
			reply, err := h.HandleSetup(&s, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if len(reply) != tt.wantLen {
				t.Errorf("reply length = %d, want %d", len(reply), tt.wantLen)
			}
		})
	}
}

func TestStandardConfigurationRequests(t *testing.T) {
	dev, h := addressedDevice(t)

	get := SetupPacket{RequestType: 0x80, Request: RequestGetConfiguration, Length: 1}
	reply, err := h.HandleSetup(&get, nil)
	if err != nil || len(reply) != 1 || reply[0] != 0 {
		t.Fatalf("GET_CONFIGURATION unconfigured = %v, %v", reply, err)
	}

	var set SetupPacket
	SetConfigurationSetup(&set, 1)
	if _, err := h.HandleSetup(&set, nil); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}
	if !dev.IsConfigured() {
		t.Fatal("device not configured")
	}

	reply, err = h.HandleSetup(&get, nil)
	if err != nil || reply[0] != 1 {
		t.Errorf("GET_CONFIGURATION configured = %v, %v", reply, err)
	}

	SetConfigurationSetup(&set, 9)
	if _, err := h.HandleSetup(&set, nil); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("SET_CONFIGURATION(9) error = %v", err)
	}
}

func TestStandardStatusAndFeatures(t *testing.T) {
	dev, h := addressedDevice(t)
	_ = dev.SetConfiguration(1)

	tests := []struct {
		name    string
		setup   SetupPacket
		want    []byte
		wantErr error
	}{
		{"device status", SetupPacket{RequestType: 0x80, Request: RequestGetStatus, Length: 2}, []byte{0, 0}, nil},
		{"device status short", SetupPacket{RequestType: 0x80, Request: RequestGetStatus, Length: 1}, nil, pkg.ErrInvalidRequest},
		{"set remote wakeup", SetupPacket{RequestType: 0x00, Request: RequestSetFeature, Value: FeatureDeviceRemoteWakeup}, nil, nil},
		{"device status wakeup", SetupPacket{RequestType: 0x80, Request: RequestGetStatus, Length: 2}, []byte{2, 0}, nil},
		{"clear remote wakeup", SetupPacket{RequestType: 0x00, Request: RequestClearFeature, Value: FeatureDeviceRemoteWakeup}, nil, nil},
		{"test mode", SetupPacket{RequestType: 0x00, Request: RequestSetFeature, Value: FeatureTestMode}, nil, pkg.ErrNotSupported},
		{"interface status", SetupPacket{RequestType: 0x81, Request: RequestGetStatus, Length: 2}, []byte{0, 0}, nil},
		{"get interface", SetupPacket{RequestType: 0x81, Request: RequestGetInterface, Length: 1}, []byte{0}, nil},
		{"set alternate 1", SetupPacket{RequestType: 0x01, Request: RequestSetInterface, Value: 1}, nil, pkg.ErrInvalidRequest},
		{"missing interface", SetupPacket{RequestType: 0x81, Request: RequestGetStatus, Index: 4, Length: 2}, nil, pkg.ErrInvalidRequest},
		{"halt endpoint", SetupPacket{RequestType: 0x02, Request: RequestSetFeature, Value: FeatureEndpointHalt, Index: 0x81}, nil, nil},
		{"endpoint halted", SetupPacket{RequestType: 0x82, Request: RequestGetStatus, Index: 0x81, Length: 2}, []byte{1, 0}, nil},
		{"clear halt", SetupPacket{RequestType: 0x02, Request: RequestClearFeature, Value: FeatureEndpointHalt, Index: 0x81}, nil, nil},
		{"endpoint running", SetupPacket{RequestType: 0x82, Request: RequestGetStatus, Index: 0x81, Length: 2}, []byte{0, 0}, nil},
		{"missing endpoint", SetupPacket{RequestType: 0x82, Request: RequestGetStatus, Index: 0x83, Length: 2}, nil, pkg.ErrInvalidEndpoint},
		{"synch frame", SetupPacket{RequestType: 0x82, Request: RequestSynchFrame, Index: 0x81, Length: 2}, nil, pkg.ErrInvalidRequest},
		{"other recipient", SetupPacket{RequestType: 0x83, Request: RequestGetStatus, Length: 2}, nil, pkg.ErrInvalidRequest},
		{"vendor", SetupPacket{RequestType: 0xC0, Request: 0x05, Length: 2}, nil, pkg.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := h.HandleSetup(&tt.setup, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if string(reply) != string(tt.want) {
				t.Errorf("reply = % X, want % X", reply, tt.want)
			}
		})
	}
}

func TestStandardSetAddressMasksHighBit(t *testing.T) {
	dev, h := addressedDevice(t)
	var s SetupPacket
	SetAddressSetup(&s, 0x85)
	if _, err := h.HandleSetup(&s, nil); err != nil {
		t.Fatal(err)
	}
	if dev.Address() != 0x05 {
		t.Errorf("Address() = 0x%02X, want 0x05", dev.Address())
	}
}
