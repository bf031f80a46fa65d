package domain

import (
	"strings"
)

// Classifier names.
const (
	ClassifierExceptionTypeAndStackTrace = "Exception Type and Stack Trace"
	ClassifierMessageType                = "Message Type"
	ClassifierEndpointAddress            = "Endpoint Address"
)

// MessageMetadataMessageType is the metadata key holding the message type name.
const MessageMetadataMessageType = "MessageType"

// Classifier assigns a failure to a group title.
type Classifier interface {
	Name() string
	Classify(msg *FailedMessage, attempt ProcessingAttempt) (string, bool)
}

// DefaultClassifiers returns the classifiers applied to every recorded failure.
func DefaultClassifiers() []Classifier {
	return []Classifier{
		ExceptionTypeAndStackTraceClassifier{},
		MessageTypeClassifier{},
		EndpointAddressClassifier{},
	}
}

// Classify tags msg with the groups produced by classifiers for its latest attempt.
func Classify(msg *FailedMessage, classifiers []Classifier) []FailureGroup {
	attempt, ok := msg.LastAttempt()
	if !ok {
		return nil
	}

	groups := make([]FailureGroup, 0, len(classifiers))
	for _, classifier := range classifiers {
		title, ok := classifier.Classify(msg, attempt)
		if !ok {
			continue
		}
		groups = append(groups, FailureGroup{
			ID:    NewFailureGroupID(classifier.Name(), title),
			Title: title,
			Type:  classifier.Name(),
		})
	}
	return groups
}

// ExceptionTypeAndStackTraceClassifier groups by exception type and the first stack frame.
type ExceptionTypeAndStackTraceClassifier struct{}

// Name returns the classifier name.
func (ExceptionTypeAndStackTraceClassifier) Name() string {
	return ClassifierExceptionTypeAndStackTrace
}

// Classify returns "<type> was thrown at <frame>" or just the type when no trace exists.
func (ExceptionTypeAndStackTraceClassifier) Classify(_ *FailedMessage, attempt ProcessingAttempt) (string, bool) {
	exception := attempt.FailureDetails.Exception
	if exception.ExceptionType == "" {
		return "", false
	}

	frame := firstStackFrame(exception.StackTrace)
	if frame == "" {
		return exception.ExceptionType, true
	}
	return exception.ExceptionType + " was thrown at " + frame, true
}

func firstStackFrame(stackTrace string) string {
	for _, line := range strings.Split(stackTrace, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "at ")
		if line != "" {
			return line
		}
	}
	return ""
}

// MessageTypeClassifier groups by message type.
type MessageTypeClassifier struct{}

// Name returns the classifier name.
func (MessageTypeClassifier) Name() string {
	return ClassifierMessageType
}

// Classify returns the message type if one is known.
func (MessageTypeClassifier) Classify(msg *FailedMessage, attempt ProcessingAttempt) (string, bool) {
	if messageType := attempt.MessageMetadata[MessageMetadataMessageType]; messageType != "" {
		return messageType, true
	}
	if msg.MessageType != "" {
		return msg.MessageType, true
	}
	return "", false
}

// EndpointAddressClassifier groups by the address of the failing endpoint.
type EndpointAddressClassifier struct{}

// Name returns the classifier name.
func (EndpointAddressClassifier) Name() string {
	return ClassifierEndpointAddress
}

// Classify returns the failing endpoint address.
func (EndpointAddressClassifier) Classify(_ *FailedMessage, attempt ProcessingAttempt) (string, bool) {
	address := attempt.FailureDetails.AddressOfFailingEndpoint
	return address, address != ""
}
