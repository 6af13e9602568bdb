//go:build linux

package linux

import (
	"testing"

	"github.com/ardnew/usbstore/host/hal"
)

func TestParseUEvent_Add(t *testing.T) {
	data := []byte(
		"add@/devices/pci0000:00/0000:00:14.0/usb1/1-1\x00" +
			"ACTION=add\x00" +
			"DEVPATH=/devices/pci0000:00/0000:00:14.0/usb1/1-1\x00" +
			"SUBSYSTEM=usb\x00" +
			"DEVTYPE=usb_device\x00" +
			"BUSNUM=001\x00" +
			"DEVNUM=002\x00",
	)

	evt := parseUEvent(data)

	if evt.action != ueventAdd {
		t.Errorf("action = %d, want ueventAdd (%d)", evt.action, ueventAdd)
	}
	if evt.devpath != "/devices/pci0000:00/0000:00:14.0/usb1/1-1" {
		t.Errorf("devpath = %q, unexpected value", evt.devpath)
	}
	if evt.subsystem != "usb" {
		t.Errorf("subsystem = %q, want %q", evt.subsystem, "usb")
	}
	if evt.devtype != "usb_device" {
		t.Errorf("devtype = %q, want %q", evt.devtype, "usb_device")
	}
	if evt.busnum != "001" || evt.devnum != "002" {
		t.Errorf("busnum/devnum = %q/%q, want 001/002", evt.busnum, evt.devnum)
	}
}

func TestParseUEvent_HeaderOnly(t *testing.T) {
	evt := parseUEvent([]byte("unbind@/devices/usb1/1-1/1-1:1.0\x00"))
	if evt.action != ueventUnbind {
		t.Errorf("action = %d, want ueventUnbind", evt.action)
	}
	if evt.devpath != "/devices/usb1/1-1/1-1:1.0" {
		t.Errorf("devpath = %q", evt.devpath)
	}
}

func TestParseUEvent_EmptyData(t *testing.T) {
	evt := parseUEvent(nil)
	if evt.action != ueventUnknown || evt.devpath != "" {
		t.Errorf("parseUEvent(nil) = %+v, want zero", evt)
	}
}

func TestUEvent_ToEvent(t *testing.T) {
	tests := []struct {
		name string
		evt  uevent
		want hal.Event
		ok   bool
	}{
		{
			name: "storage interface added",
			evt:  uevent{action: ueventAdd, subsystem: "usb", devtype: "usb_interface", iface: "8/6/80"},
			want: hal.Event{Kind: hal.EventInterfaceAvailable},
			ok:   true,
		},
		{
			name: "storage interface removed",
			evt:  uevent{action: ueventRemove, subsystem: "usb", devtype: "usb_interface", iface: "8/6/80"},
			want: hal.Event{Kind: hal.EventInterfaceStateChanged},
			ok:   true,
		},
		{
			name: "storage interface unbound",
			evt:  uevent{action: ueventUnbind, subsystem: "usb", devtype: "usb_interface", iface: "8/6/80"},
		},
		{
			name: "hid interface added",
			evt:  uevent{action: ueventAdd, subsystem: "usb", devtype: "usb_interface", iface: "3/1/1"},
		},
		{
			name: "device removed",
			evt:  uevent{action: ueventRemove, subsystem: "usb", devtype: "usb_device", busnum: "002", devnum: "017"},
			want: hal.Event{Kind: hal.EventInterfaceStateChanged, ID: hal.MakeInterfaceID(2, 17, 0)},
			ok:   true,
		},
		{
			name: "device removed without numbers",
			evt:  uevent{action: ueventRemove, subsystem: "usb", devtype: "usb_device"},
			want: hal.Event{Kind: hal.EventInterfaceStateChanged},
			ok:   true,
		},
		{
			name: "device added",
			evt:  uevent{action: ueventAdd, subsystem: "usb", devtype: "usb_device"},
		},
		{
			name: "block subsystem",
			evt:  uevent{action: ueventRemove, subsystem: "block", devtype: "disk"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.evt.toEvent()
			if ok != tt.ok || got != tt.want {
				t.Errorf("toEvent() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
