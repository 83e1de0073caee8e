package service

import (
	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
)

// Cameras indexes the configured cameras by id.
type Cameras struct {
	byID map[string]config.CameraConfig
}

func NewCameras(list []config.CameraConfig) *Cameras {
	c := &Cameras{byID: make(map[string]config.CameraConfig, len(list))}
	for _, cam := range list {
		c.byID[cam.ID] = cam
	}
	return c
}

func (c *Cameras) Lookup(id string) (config.CameraConfig, bool) {
	cam, ok := c.byID[id]
	return cam, ok
}

// ExitGate is the gate to release for a session that left through cameraID.
// Sessions closed without an exit passage have no gate.
func (c *Cameras) ExitGate(cameraID string) string {
	if cameraID == "" {
		return ""
	}
	cam, ok := c.byID[cameraID]
	if !ok || cam.Role != string(parking.DirectionExit) {
		return ""
	}
	return cam.Gate
}
