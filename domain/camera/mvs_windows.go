//go:build windows

package camera

import (
	"fmt"
	"math"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// MVS GigE/USB camera source backed by the vendor runtime MvCameraControl.dll.
// Only the calls this pipeline needs are bound; everything is loaded lazily so
// the binary still starts on hosts without the SDK installed (Connect fails
// with a load error instead).

const (
	mvOK              = 0
	mvENoData         = 0x8000000A // no frame within the timeout
	mvLayerGigE       = 0x00000001
	mvLayerUSB        = 0x00000004
	mvAccessExclusive = 1

	pixelTypeMono8 = 0x01080001
)

var (
	modMvCam               = windows.NewLazySystemDLL("MvCameraControl.dll")
	procEnumDevices        = modMvCam.NewProc("MV_CC_EnumDevices")
	procCreateHandle       = modMvCam.NewProc("MV_CC_CreateHandle")
	procDestroyHandle      = modMvCam.NewProc("MV_CC_DestroyHandle")
	procOpenDevice         = modMvCam.NewProc("MV_CC_OpenDevice")
	procCloseDevice        = modMvCam.NewProc("MV_CC_CloseDevice")
	procStartGrabbing      = modMvCam.NewProc("MV_CC_StartGrabbing")
	procStopGrabbing       = modMvCam.NewProc("MV_CC_StopGrabbing")
	procGetOneFrameTimeout = modMvCam.NewProc("MV_CC_GetOneFrameTimeout")
	procSetEnumValue       = modMvCam.NewProc("MV_CC_SetEnumValue")
	procSetFloatValue      = modMvCam.NewProc("MV_CC_SetFloatValue")
	procGetFloatValue      = modMvCam.NewProc("MV_CC_GetFloatValue")
	procGetIntValue        = modMvCam.NewProc("MV_CC_GetIntValue")
	procGetStringValue     = modMvCam.NewProc("MV_CC_GetStringValue")
)

// mvDeviceInfoList mirrors MV_CC_DEVICE_INFO_LIST.
type mvDeviceInfoList struct {
	nDeviceNum  uint32
	pDeviceInfo [256]uintptr
}

// mvFrameOutInfo mirrors the leading fields of MV_FRAME_OUT_INFO_EX. The
// reserved tail keeps the struct at least as large as the SDK's, which
// writes the full structure.
type mvFrameOutInfo struct {
	nWidth            uint16
	nHeight           uint16
	enPixelType       uint32
	nFrameNum         uint32
	nDevTimeStampHigh uint32
	nDevTimeStampLow  uint32
	nReserved0        uint32
	nHostTimeStamp    int64
	nFrameLen         uint32
	nSecondCount      uint32
	nCycleCount       uint32
	nCycleOffset      uint32
	fGain             float32
	fExposureTime     float32
	nReserved         [96]uint32
}

// mvFloatValue mirrors MVCC_FLOATVALUE.
type mvFloatValue struct {
	fCurValue float32
	fMax      float32
	fMin      float32
	nReserved [4]uint32
}

// mvIntValue mirrors MVCC_INTVALUE.
type mvIntValue struct {
	nCurValue uint32
	nMax      uint32
	nMin      uint32
	nInc      uint32
	nReserved [4]uint32
}

// mvStringValue mirrors MVCC_STRINGVALUE.
type mvStringValue struct {
	chCurValue [256]byte
	nMaxLength uint32
	nReserved  [2]uint32
}

// mvsParamKeys maps pipeline parameter names to SDK feature keys. Features a
// given model lacks simply fail the Get/Set with an SDK code.
var mvsParamKeys = map[ParameterName]string{
	ParamExposure:   "ExposureTime",
	ParamGain:       "Gain",
	ParamGamma:      "Gamma",
	ParamContrast:   "Contrast",
	ParamSaturation: "Saturation",
}

// MVSSource drives one MVS camera selected by enumeration index.
type MVSSource struct {
	id     string
	index  int
	serial string

	mu       sync.Mutex
	handle   uintptr
	opened   bool
	grabbing bool
	payload  []byte
	sequence uint64
}

// NewMVSSource returns a vendor camera source for the index-th enumerated
// device. serial, when set, is checked against the opened device and logged
// on mismatch by the caller via the returned error path.
func NewMVSSource(id string, index int, serial string) (FrameSource, error) {
	return &MVSSource{id: id, index: index, serial: serial}, nil
}

func (s *MVSSource) ID() string { return s.id }

func mvCall(p *windows.LazyProc, args ...uintptr) uint32 {
	r, _, _ := p.Call(args...)
	return uint32(r)
}

func mvErr(op string, code uint32) error {
	return fmt.Errorf("%s: sdk error 0x%08X", op, code)
}

// Connect runs the strict bring-up order: enumerate, create handle for the
// selected device, open exclusively, then one-time static configuration
// (trigger mode off, Mono8). A failure at any step unwinds what was acquired.
func (s *MVSSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	if err := modMvCam.Load(); err != nil {
		return fmt.Errorf("load MvCameraControl.dll: %w", err)
	}

	var list mvDeviceInfoList
	if code := mvCall(procEnumDevices, uintptr(mvLayerGigE|mvLayerUSB), uintptr(unsafe.Pointer(&list))); code != mvOK {
		return mvErr("enum devices", code)
	}
	if int(list.nDeviceNum) == 0 {
		return fmt.Errorf("no camera devices found")
	}
	if s.index < 0 || s.index >= int(list.nDeviceNum) {
		return fmt.Errorf("device index %d out of range, %d found", s.index, list.nDeviceNum)
	}

	var handle uintptr
	if code := mvCall(procCreateHandle, uintptr(unsafe.Pointer(&handle)), list.pDeviceInfo[s.index]); code != mvOK {
		return mvErr("create handle", code)
	}
	if code := mvCall(procOpenDevice, handle, uintptr(mvAccessExclusive), 0); code != mvOK {
		mvCall(procDestroyHandle, handle)
		return mvErr("open device", code)
	}
	if err := s.configureLocked(handle); err != nil {
		mvCall(procCloseDevice, handle)
		mvCall(procDestroyHandle, handle)
		return err
	}
	if s.serial != "" {
		if got, err := getStringLocked(handle, "DeviceSerialNumber"); err == nil && got != s.serial {
			mvCall(procCloseDevice, handle)
			mvCall(procDestroyHandle, handle)
			return fmt.Errorf("device %d serial %q does not match configured %q", s.index, got, s.serial)
		}
	}

	s.handle = handle
	s.opened = true
	return nil
}

func (s *MVSSource) configureLocked(handle uintptr) error {
	trigger, err := windows.BytePtrFromString("TriggerMode")
	if err != nil {
		return err
	}
	if code := mvCall(procSetEnumValue, handle, uintptr(unsafe.Pointer(trigger)), 0); code != mvOK {
		return mvErr("set trigger mode", code)
	}
	format, err := windows.BytePtrFromString("PixelFormat")
	if err != nil {
		return err
	}
	if code := mvCall(procSetEnumValue, handle, uintptr(unsafe.Pointer(format)), uintptr(pixelTypeMono8)); code != mvOK {
		return mvErr("set pixel format", code)
	}
	return nil
}

func getStringLocked(handle uintptr, key string) (string, error) {
	kp, err := windows.BytePtrFromString(key)
	if err != nil {
		return "", err
	}
	var sv mvStringValue
	if code := mvCall(procGetStringValue, handle, uintptr(unsafe.Pointer(kp)), uintptr(unsafe.Pointer(&sv))); code != mvOK {
		return "", mvErr("get "+key, code)
	}
	n := 0
	for n < len(sv.chCurValue) && sv.chCurValue[n] != 0 {
		n++
	}
	return string(sv.chCurValue[:n]), nil
}

func (s *MVSSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	if s.grabbing {
		mvCall(procStopGrabbing, s.handle)
		s.grabbing = false
	}
	if code := mvCall(procCloseDevice, s.handle); code != mvOK {
		s.opened = false
		return mvErr("close device", code)
	}
	s.opened = false
	return nil
}

// Release destroys the SDK handle. Runs last in the worker cleanup sequence.
func (s *MVSSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == 0 {
		return nil
	}
	code := mvCall(procDestroyHandle, s.handle)
	s.handle = 0
	if code != mvOK {
		return mvErr("destroy handle", code)
	}
	return nil
}

func (s *MVSSource) StartAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return ErrNotConnected
	}
	if s.grabbing {
		return nil
	}
	key, err := windows.BytePtrFromString("PayloadSize")
	if err != nil {
		return err
	}
	var iv mvIntValue
	if code := mvCall(procGetIntValue, s.handle, uintptr(unsafe.Pointer(key)), uintptr(unsafe.Pointer(&iv))); code != mvOK {
		return mvErr("get payload size", code)
	}
	if iv.nCurValue == 0 {
		return fmt.Errorf("device reported zero payload size")
	}
	s.payload = make([]byte, iv.nCurValue)
	if code := mvCall(procStartGrabbing, s.handle); code != mvOK {
		s.payload = nil
		return mvErr("start grabbing", code)
	}
	s.grabbing = true
	return nil
}

func (s *MVSSource) StopAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.grabbing {
		return nil
	}
	s.grabbing = false
	if code := mvCall(procStopGrabbing, s.handle); code != mvOK {
		return mvErr("stop grabbing", code)
	}
	return nil
}

func (s *MVSSource) PullFrame(timeout time.Duration) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.grabbing {
		return Frame{}, ErrNotStreaming
	}
	var info mvFrameOutInfo
	code := mvCall(procGetOneFrameTimeout,
		s.handle,
		uintptr(unsafe.Pointer(&s.payload[0])),
		uintptr(len(s.payload)),
		uintptr(unsafe.Pointer(&info)),
		uintptr(timeout.Milliseconds()),
	)
	if code == mvENoData {
		return Frame{}, ErrFrameTimeout
	}
	if code != mvOK {
		return Frame{}, mvErr("get frame", code)
	}
	w, h := int(info.nWidth), int(info.nHeight)
	if w <= 0 || h <= 0 || w*h > len(s.payload) {
		return Frame{}, fmt.Errorf("bad frame geometry %dx%d", w, h)
	}
	pix := acquireBuf(w * h)
	copy(pix, s.payload[:w*h])
	s.sequence++
	return Frame{
		Pix:        pix,
		Width:      w,
		Height:     h,
		Stride:     w,
		Format:     FormatMono8,
		Sequence:   s.sequence,
		CapturedAt: time.Now(),
	}, nil
}

func (s *MVSSource) Parameter(name ParameterName) (float64, error) {
	key, ok := mvsParamKeys[name]
	if !ok {
		return 0, ErrUnknownParameter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return 0, ErrNotConnected
	}
	fv, err := s.getFloatLocked(key)
	if err != nil {
		return 0, err
	}
	return float64(fv.fCurValue), nil
}

func (s *MVSSource) SetParameter(name ParameterName, value float64) error {
	key, ok := mvsParamKeys[name]
	if !ok {
		return ErrUnknownParameter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return ErrNotConnected
	}
	kp, err := windows.BytePtrFromString(key)
	if err != nil {
		return err
	}
	bits := uintptr(math.Float32bits(float32(value)))
	if code := mvCall(procSetFloatValue, s.handle, uintptr(unsafe.Pointer(kp)), bits); code != mvOK {
		return mvErr("set "+key, code)
	}
	return nil
}

func (s *MVSSource) ParameterRange(name ParameterName) (float64, float64, bool) {
	key, ok := mvsParamKeys[name]
	if !ok {
		return 0, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return 0, 0, false
	}
	fv, err := s.getFloatLocked(key)
	if err != nil {
		return 0, 0, false
	}
	return float64(fv.fMin), float64(fv.fMax), true
}

func (s *MVSSource) getFloatLocked(key string) (mvFloatValue, error) {
	kp, err := windows.BytePtrFromString(key)
	if err != nil {
		return mvFloatValue{}, err
	}
	var fv mvFloatValue
	if code := mvCall(procGetFloatValue, s.handle, uintptr(unsafe.Pointer(kp)), uintptr(unsafe.Pointer(&fv))); code != mvOK {
		return mvFloatValue{}, mvErr("get "+key, code)
	}
	return fv, nil
}

var _ FrameSource = (*MVSSource)(nil)
var _ Releaser = (*MVSSource)(nil)
