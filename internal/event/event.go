package event

import (
	"fmt"
	"strings"
)

// Type identifies an emergency category evaluated per camera
type Type string

const (
	Stampede         Type = "stampede"
	Running          Type = "running"
	Fallen           Type = "fallen"
	Fire             Type = "fire"
	Smoke            Type = "smoke"
	MedicalEmergency Type = "medical_emergency"
)

// All returns every event type in evaluation order
func All() []Type {
	return []Type{Stampede, Running, Fallen, Fire, Smoke, MedicalEmergency}
}

// Valid reports whether t is one of the known event types
func (t Type) Valid() bool {
	switch t {
	case Stampede, Running, Fallen, Fire, Smoke, MedicalEmergency:
		return true
	}
	return false
}

// Parse converts a label into an event type. Spaces are accepted in place of
// underscores ("medical emergency").
func Parse(s string) (Type, error) {
	t := Type(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"))
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// Title returns a human readable label ("Medical Emergency")
func (t Type) Title() string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Modality identifies an independent detection signal source and selects
// its fusion weight
type Modality string

const (
	ModalityYOLO      Modality = "yolo"
	ModalityPose      Modality = "pose"
	ModalityFireSmoke Modality = "fire_smoke"
	ModalityCrowd     Modality = "crowd"
	ModalityAudio     Modality = "audio"
)

// Modalities returns every modality
func Modalities() []Modality {
	return []Modality{ModalityYOLO, ModalityPose, ModalityFireSmoke, ModalityCrowd, ModalityAudio}
}

// Status is the published state of an event
type Status string

const (
	StatusDetected    Status = "detected"
	StatusNotDetected Status = "not_detected"
)

// Severity is the alert priority tier
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category is the incident class used by the downstream incident backend
type Category string

const (
	CategoryFire             Category = "fire"
	CategoryCrowdControl     Category = "crowd_control"
	CategoryMedicalEmergency Category = "medical_emergency"
	CategorySecurityThreat   Category = "security_threat"
	CategoryOther            Category = "other"
)

// CategoryOf maps an event type to its incident category
func CategoryOf(t Type) Category {
	switch t {
	case Fire, Smoke:
		return CategoryFire
	case Stampede:
		return CategoryCrowdControl
	case MedicalEmergency, Fallen:
		return CategoryMedicalEmergency
	case Running:
		return CategorySecurityThreat
	}
	return CategoryOther
}

// SeverityOf maps an event type and confidence to a severity tier
func SeverityOf(t Type, confidence float64) Severity {
	switch t {
	case Fire, Stampede:
		switch {
		case confidence > 0.8:
			return SeverityCritical
		case confidence > 0.6:
			return SeverityHigh
		}
		return SeverityMedium
	case Smoke, MedicalEmergency:
		switch {
		case confidence > 0.7:
			return SeverityHigh
		case confidence > 0.5:
			return SeverityMedium
		}
		return SeverityLow
	}
	if confidence > 0.8 {
		return SeverityMedium
	}
	return SeverityLow
}

// RequiresApproval reports whether a human must confirm the incident
func RequiresApproval(c Category, confidence float64) bool {
	switch c {
	case CategoryFire, CategoryMedicalEmergency, CategorySecurityThreat:
		return true
	}
	return confidence < 0.7
}

// Advice returns the type specific sentence appended to incident descriptions
func Advice(t Type) string {
	switch t {
	case Fire:
		return "Immediate evacuation and fire suppression may be required."
	case Smoke:
		return "Potential fire hazard detected. Investigation recommended."
	case Stampede:
		return "Crowd control measures may be needed immediately."
	case MedicalEmergency:
		return "Medical assistance may be required."
	case Fallen:
		return "Person appears to have fallen. Medical check recommended."
	}
	return ""
}
