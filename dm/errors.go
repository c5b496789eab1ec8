package dm

import "errors"

var (
	ErrPermissionDenied       = errors.New("dm: not participating in the conversation")
	ErrSelfMessagingDenied    = errors.New("dm: no self-messaging allowed")
	ErrDataIntegrityViolation = errors.New("dm: participant set belongs to more than one conversation")
	ErrNotParticipant         = errors.New("dm: user never participated in the conversation")
	ErrNoParticipants         = errors.New("dm: participant set is empty")
	ErrConversationNotFound   = errors.New("dm: conversation not found")
)
