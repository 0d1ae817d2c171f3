package hikvision

import "strings"

// categoryNames maps ISAPI eventType codes (lowercased) to display names.
var categoryNames = map[string]string{
	"vmd":                  "Motion Detection",
	"motiondetection":      "Motion Detection",
	"linedetection":        "Line Crossing",
	"fielddetection":       "Intrusion Detection",
	"regionentrance":       "Region Entrance",
	"regionexiting":        "Region Exiting",
	"shelteralarm":         "Video Tampering",
	"tamperdetection":      "Video Tampering",
	"videoloss":            "Video Loss",
	"io":                   "Alarm Input",
	"facedetection":        "Face Detection",
	"scenechangedetection": "Scene Change",
	"defocus":              "Defocus",
	"audioexception":       "Audio Exception",
	"unattendedbaggage":    "Unattended Baggage",
	"attendedbaggage":      "Object Removal",
	"pir":                  "PIR Alarm",
	"diskfull":             "HDD Full",
	"diskerror":            "HDD Error",
	"nicbroken":            "Network Disconnected",
	"ipconflict":           "IP Conflict",
	"illaccess":            "Illegal Login",
	"videomismatch":        "Video Mismatch",
	"badvideo":             "Bad Video",
}

// CategoryName returns the display name for an eventType code. Unknown
// codes are returned unchanged so new firmware events still get an identity.
func CategoryName(eventType string) string {
	code := strings.TrimSpace(eventType)
	if name, ok := categoryNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}
