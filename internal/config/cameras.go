package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Camera is one RTSP producer to monitor.
type Camera struct {
	Name string `toml:"name" json:"name"`
	URL  string `toml:"url" json:"url"`

	// FPS overrides the framerate announced in the producer's SDP for
	// video duration accounting. Zero means use the announced value.
	FPS int64 `toml:"fps,omitempty" json:"fps,omitempty"`
}

// Cameras is the contents of a camera configuration file:
//
//	[[camera]]
//	name = "entrance"
//	url = "rtsp://10.0.0.10:554/stream1"
//
//	[[camera]]
//	name = "parking"
//	url = "rtsp://10.0.0.11:554/stream1"
//	fps = 25
type Cameras struct {
	Cameras []Camera `toml:"camera" json:"camera"`
}

// Get retrieves a camera by name.
func (c Cameras) Get(name string) (Camera, bool) {
	for _, cam := range c.Cameras {
		if cam.Name == name {
			return cam, true
		}
	}
	return Camera{}, false
}

// Names returns camera names in file order.
func (c Cameras) Names() []string {
	names := make([]string, len(c.Cameras))
	for i, cam := range c.Cameras {
		names[i] = cam.Name
	}
	return names
}

// LoadCameras loads and validates a camera configuration file. A missing
// file is an error: there is nothing to monitor without one.
func LoadCameras(path string) (Cameras, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Cameras{}, fmt.Errorf("failed to read cameras config: %w", err)
	}

	var cams Cameras
	if err := toml.Unmarshal(data, &cams); err != nil {
		return Cameras{}, fmt.Errorf("failed to parse cameras config: %w", err)
	}

	if err := cams.validate(); err != nil {
		return Cameras{}, fmt.Errorf("invalid cameras config: %w", err)
	}

	return cams, nil
}

func (c Cameras) validate() error {
	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.Name == "" {
			return fmt.Errorf("camera #%d: name cannot be empty", i+1)
		}
		if seen[cam.Name] {
			return fmt.Errorf("camera %q: duplicate name", cam.Name)
		}
		seen[cam.Name] = true

		if cam.URL == "" {
			return fmt.Errorf("camera %q: url cannot be empty", cam.Name)
		}
		if cam.FPS < 0 {
			return fmt.Errorf("camera %q: fps cannot be negative", cam.Name)
		}
	}
	return nil
}
