package domain

import (
	"github.com/google/uuid"
)

var (
	failedMessageNamespace = uuid.MustParse("6f1c3c8e-7b0e-4f0a-9d43-2d7a5b1e9c10")
	failureGroupNamespace  = uuid.MustParse("a3e2d9b4-1c5f-4e8a-b6d7-0f9e8c7b6a54")
	attemptNamespace       = uuid.MustParse("0c9b8a7d-6e5f-4a3b-9c2d-1e0f9a8b7c6d")
)

// NewFailedMessageID derives the deterministic id shared by every failure of
// the same message on the same receiving endpoint.
func NewFailedMessageID(messageID, receivingEndpoint string) uuid.UUID {
	return uuid.NewSHA1(failedMessageNamespace, []byte(messageID+"@"+receivingEndpoint))
}

// NewFailureGroupID derives the deterministic id of a classification bucket.
func NewFailureGroupID(classifier, title string) uuid.UUID {
	return uuid.NewSHA1(failureGroupNamespace, []byte(classifier+"/"+title))
}

// NewAttemptID derives an attempt id from the failure id and the failure timestamp
// when the transport does not supply one.
func NewAttemptID(failedMessageID uuid.UUID, timeOfFailure string) uuid.UUID {
	return uuid.NewSHA1(attemptNamespace, []byte(failedMessageID.String()+"/"+timeOfFailure))
}
