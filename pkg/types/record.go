package types

import "time"

// Attribute is one sensor dimension flagged by the classifier.
type Attribute struct {
	Name      string  `json:"name" bson:"name" dynamodbav:"name"`
	Value     float64 `json:"value" bson:"value" dynamodbav:"value"`
	Unit      string  `json:"unit" bson:"unit" dynamodbav:"unit"`
	Threshold string  `json:"threshold" bson:"threshold" dynamodbav:"threshold"`
	Severity  string  `json:"severity" bson:"severity" dynamodbav:"severity"`
}

// Classification is the classifier's verdict for one reading. It is not
// stored on its own; it is embedded into a Record.
type Classification struct {
	Category              Category    `json:"category"`
	Confidence            float64     `json:"confidence"`
	ProblematicAttributes []Attribute `json:"problematic_attributes"`
}

// Record is the classification ledger entry. One is written for every reading
// that was classified. AlertSent only moves false -> true (commit); a failed
// alert deletes the record instead (rollback).
type Record struct {
	ID                    string       `json:"id" bson:"_id" dynamodbav:"id"`
	Reading               Reading      `json:"reading" bson:"reading" dynamodbav:"reading"`
	Category              Category     `json:"category" bson:"category" dynamodbav:"category"`
	Confidence            float64      `json:"confidence" bson:"confidence" dynamodbav:"confidence"`
	IndicatorColor        Color        `json:"indicator_color" bson:"indicator_color" dynamodbav:"indicator_color"`
	AlarmTriggered        bool         `json:"alarm_triggered" bson:"alarm_triggered" dynamodbav:"alarm_triggered"`
	AlarmConfig           *AlarmConfig `json:"alarm_config,omitempty" bson:"alarm_config,omitempty" dynamodbav:"alarm_config,omitempty"`
	ProblematicAttributes []Attribute  `json:"problematic_attributes" bson:"problematic_attributes" dynamodbav:"problematic_attributes"`
	AlertSent             bool         `json:"alert_sent" bson:"alert_sent" dynamodbav:"alert_sent"`
	Timestamp             time.Time    `json:"timestamp" bson:"timestamp" dynamodbav:"timestamp"`
}
