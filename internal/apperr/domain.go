package apperr

var (
	// Auth / profile
	ErrLoginTaken              = PreconditionFailed("login is already taken")
	ErrInvalidCredentials      = Unauthenticated("invalid login or password")
	ErrProfileNotFound         = NotFound("profile not found")
	ErrInvalidPublicKey        = InvalidInput("public key must be 32 bytes of base64")
	ErrCodeAllocationExhausted = Internal("pair code allocation exhausted", nil)

	// Pairing
	ErrInvalidPairCode      = InvalidInput("pair code must be 6 digits")
	ErrPartnerNotFound      = NotFound("partner not found")
	ErrSelfPairing          = InvalidInput("cannot pair with yourself")
	ErrAlreadyPaired        = PreconditionFailed("already paired")
	ErrPartnerAlreadyPaired = PreconditionFailed("partner is already paired")
	ErrNotPaired            = PreconditionFailed("not in a mutual pairing")
	ErrDuplicateRequest     = PreconditionFailed("a pending request already exists")
	ErrRequestNotFound      = NotFound("request not found")
	ErrRequestTypeMismatch  = InvalidInput("request type mismatch")
	ErrRequestNotPending    = PreconditionFailed("request is not pending")
	ErrRequestExpired       = PreconditionFailed("request expired")
	ErrInvalidDecision      = InvalidInput("decision must be accept or reject")

	// Messages
	ErrNotRecipient     = PermissionDenied("caller is not the addressed party")
	ErrNotChatMember    = PermissionDenied("caller is not part of this chat")
	ErrReceiptNotFound  = NotFound("receipt not found")
	ErrInvalidMessageID = InvalidInput("invalid message id")
	ErrInvalidChatID    = InvalidInput("invalid chat id")
	ErrEmptyCiphertext  = InvalidInput("ciphertext is required")

	// Session lock
	ErrLockedElsewhere       = PreconditionFailed("session is active on another installation")
	ErrInvalidInstallationID = InvalidInput("installation id is required")
)
