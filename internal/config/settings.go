package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/eyetrack/internal/analog"
	"github.com/banshee-data/eyetrack/internal/calibration"
)

// DefaultSettingsPath is where cmd/eyetrack looks for the settings document
// when no -settings flag is given.
const DefaultSettingsPath = "config/eyetrack.json"

// Defaults applied by the Get* accessors when a key is absent.
const (
	DefaultEyeSamplingRateHz = 120
	DefaultGain              = 1.0
	DefaultOffset            = 0.0
	DefaultScreenCenterX     = calibration.DefaultScreenWidth / 2
	DefaultScreenCenterY     = calibration.DefaultScreenHeight / 2
	DefaultBaudRate          = 115200
)

// Settings is the persisted configuration of the eye-tracking node. Every
// key is optional; missing keys fall back to defaults through the Get*
// methods.
type Settings struct {
	SerialCommunication *bool    `json:"serialCommunication,omitempty"`
	Device              *string  `json:"device,omitempty"`
	AnalogXChannel      *int     `json:"analogXchannel,omitempty"`
	AnalogYChannel      *int     `json:"analogYchannel,omitempty"`
	AnalogPupilChannel  *int     `json:"analogPupilchannel,omitempty"`
	GainX               *float64 `json:"gainX,omitempty"`
	GainY               *float64 `json:"gainY,omitempty"`
	OffsetX             *float64 `json:"offsetX,omitempty"`
	OffsetY             *float64 `json:"offsetY,omitempty"`
	EyeSamplingRateHz   *int     `json:"eyeSamplingRateHz,omitempty"`
	CalibrationMode     *int     `json:"calibrationMode,omitempty"`
	ScreenCenterX       *float64 `json:"screenCenterX,omitempty"`
	ScreenCenterY       *float64 `json:"screenCenterY,omitempty"`
	BaudRate            *int     `json:"baudRate,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultSettings returns a fully populated Settings with the defaults of a
// freshly created node: serial mode on, no device, no analog channels.
func DefaultSettings() *Settings {
	return &Settings{
		SerialCommunication: ptrBool(true),
		Device:              ptrString(""),
		AnalogXChannel:      ptrInt(analog.Unset),
		AnalogYChannel:      ptrInt(analog.Unset),
		AnalogPupilChannel:  ptrInt(analog.Unset),
		GainX:               ptrFloat64(DefaultGain),
		GainY:               ptrFloat64(DefaultGain),
		OffsetX:             ptrFloat64(DefaultOffset),
		OffsetY:             ptrFloat64(DefaultOffset),
		EyeSamplingRateHz:   ptrInt(DefaultEyeSamplingRateHz),
		CalibrationMode:     ptrInt(int(calibration.ModeOff)),
		ScreenCenterX:       ptrFloat64(DefaultScreenCenterX),
		ScreenCenterY:       ptrFloat64(DefaultScreenCenterY),
		BaudRate:            ptrInt(DefaultBaudRate),
	}
}

// LoadSettings loads Settings from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadSettings(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("settings file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes and validates a settings document.
func ParseSettings(data []byte) (*Settings, error) {
	s := &Settings{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Marshal renders the settings as indented JSON.
func (s *Settings) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Save writes the settings as indented JSON, replacing path atomically.
func (s *Settings) Save(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// Merge overlays every key set in other onto s.
func (s *Settings) Merge(other *Settings) {
	if other == nil {
		return
	}
	if other.SerialCommunication != nil {
		s.SerialCommunication = ptrBool(*other.SerialCommunication)
	}
	if other.Device != nil {
		s.Device = ptrString(*other.Device)
	}
	if other.AnalogXChannel != nil {
		s.AnalogXChannel = ptrInt(*other.AnalogXChannel)
	}
	if other.AnalogYChannel != nil {
		s.AnalogYChannel = ptrInt(*other.AnalogYChannel)
	}
	if other.AnalogPupilChannel != nil {
		s.AnalogPupilChannel = ptrInt(*other.AnalogPupilChannel)
	}
	if other.GainX != nil {
		s.GainX = ptrFloat64(*other.GainX)
	}
	if other.GainY != nil {
		s.GainY = ptrFloat64(*other.GainY)
	}
	if other.OffsetX != nil {
		s.OffsetX = ptrFloat64(*other.OffsetX)
	}
	if other.OffsetY != nil {
		s.OffsetY = ptrFloat64(*other.OffsetY)
	}
	if other.EyeSamplingRateHz != nil {
		s.EyeSamplingRateHz = ptrInt(*other.EyeSamplingRateHz)
	}
	if other.CalibrationMode != nil {
		s.CalibrationMode = ptrInt(*other.CalibrationMode)
	}
	if other.ScreenCenterX != nil {
		s.ScreenCenterX = ptrFloat64(*other.ScreenCenterX)
	}
	if other.ScreenCenterY != nil {
		s.ScreenCenterY = ptrFloat64(*other.ScreenCenterY)
	}
	if other.BaudRate != nil {
		s.BaudRate = ptrInt(*other.BaudRate)
	}
}

// Validate checks that the configured values are usable.
func (s *Settings) Validate() error {
	if s.EyeSamplingRateHz != nil && *s.EyeSamplingRateHz <= 0 {
		return fmt.Errorf("eyeSamplingRateHz must be positive, got %d", *s.EyeSamplingRateHz)
	}
	if s.CalibrationMode != nil {
		if _, err := calibration.ParseMode(*s.CalibrationMode); err != nil {
			return fmt.Errorf("calibrationMode: %w", err)
		}
	}
	for name, ch := range map[string]*int{
		"analogXchannel":     s.AnalogXChannel,
		"analogYchannel":     s.AnalogYChannel,
		"analogPupilchannel": s.AnalogPupilChannel,
	} {
		if ch != nil && *ch < analog.Unset {
			return fmt.Errorf("%s must be -1 (unset) or a channel index, got %d", name, *ch)
		}
	}
	if s.BaudRate != nil && *s.BaudRate <= 0 {
		return fmt.Errorf("baudRate must be positive, got %d", *s.BaudRate)
	}
	return nil
}

// GetSerialCommunication reports whether the serial link is the input.
// A missing key reads as false.
func (s *Settings) GetSerialCommunication() bool {
	if s.SerialCommunication == nil {
		return false
	}
	return *s.SerialCommunication
}

func (s *Settings) GetDevice() string {
	if s.Device == nil {
		return ""
	}
	return *s.Device
}

// GetChannels returns the analog channel selection.
func (s *Settings) GetChannels() analog.Channels {
	ch := analog.UnsetChannels()
	if s.AnalogXChannel != nil {
		ch.X = *s.AnalogXChannel
	}
	if s.AnalogYChannel != nil {
		ch.Y = *s.AnalogYChannel
	}
	if s.AnalogPupilChannel != nil {
		ch.Pupil = *s.AnalogPupilChannel
	}
	return ch
}

func (s *Settings) GetEyeSamplingRateHz() int {
	if s.EyeSamplingRateHz == nil || *s.EyeSamplingRateHz <= 0 {
		return DefaultEyeSamplingRateHz
	}
	return *s.EyeSamplingRateHz
}

func (s *Settings) GetCalibrationMode() calibration.Mode {
	if s.CalibrationMode == nil {
		return calibration.ModeOff
	}
	m, err := calibration.ParseMode(*s.CalibrationMode)
	if err != nil {
		return calibration.ModeOff
	}
	return m
}

func (s *Settings) GetBaudRate() int {
	if s.BaudRate == nil || *s.BaudRate <= 0 {
		return DefaultBaudRate
	}
	return *s.BaudRate
}

// Calibration builds the calibration state described by the settings.
func (s *Settings) Calibration() *calibration.State {
	c := calibration.NewState()
	c.Mode = s.GetCalibrationMode()
	c.GainX = floatOr(s.GainX, DefaultGain)
	c.GainY = floatOr(s.GainY, DefaultGain)
	c.OffsetX = floatOr(s.OffsetX, DefaultOffset)
	c.OffsetY = floatOr(s.OffsetY, DefaultOffset)
	c.ScreenCenterX = floatOr(s.ScreenCenterX, DefaultScreenCenterX)
	c.ScreenCenterY = floatOr(s.ScreenCenterY, DefaultScreenCenterY)
	return c
}

// SetCalibration stores the calibration parameters of c.
func (s *Settings) SetCalibration(c calibration.State) {
	s.CalibrationMode = ptrInt(int(c.Mode))
	s.GainX = ptrFloat64(c.GainX)
	s.GainY = ptrFloat64(c.GainY)
	s.OffsetX = ptrFloat64(c.OffsetX)
	s.OffsetY = ptrFloat64(c.OffsetY)
	s.ScreenCenterX = ptrFloat64(c.ScreenCenterX)
	s.ScreenCenterY = ptrFloat64(c.ScreenCenterY)
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
