package apperrors

var (
	ErrUnauthenticated    = New(KindUnauthenticated, "UNAUTHENTICATED", "authentication required")
	ErrInvalidCredentials = New(KindUnauthenticated, "INVALID_CREDENTIALS", "invalid username or password")

	ErrUserNotFound    = New(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrRequestNotFound = New(KindNotFound, "REQUEST_NOT_FOUND", "friend request not found")
	ErrMessageNotFound = New(KindNotFound, "MESSAGE_NOT_FOUND", "message not found")
	ErrGroupNotFound   = New(KindNotFound, "GROUP_NOT_FOUND", "group not found")
	ErrMemberNotFound  = New(KindNotFound, "MEMBER_NOT_FOUND", "user is not a member of the group")

	ErrNotFriends        = New(KindForbidden, "NOT_FRIENDS", "users are not friends")
	ErrNotSender         = New(KindForbidden, "NOT_SENDER", "only the sender can modify the message")
	ErrNotMember         = New(KindForbidden, "NOT_MEMBER", "you are not a member of the group")
	ErrNotAdmin          = New(KindForbidden, "NOT_ADMIN", "group admin rights required")
	ErrNotOwner          = New(KindForbidden, "NOT_OWNER", "only the group owner can do this")
	ErrCannotRemoveOwner = New(KindForbidden, "CANNOT_REMOVE_OWNER", "the group owner cannot be removed")

	ErrInvalidTarget  = New(KindInvalidInput, "INVALID_TARGET", "cannot target yourself")
	ErrEmptyContent   = New(KindInvalidInput, "EMPTY_CONTENT", "message content is empty")
	ErrContentTooLong = New(KindInvalidInput, "CONTENT_TOO_LONG", "message content is too long")
	ErrInvalidName    = New(KindInvalidInput, "INVALID_NAME", "group name is invalid")
	ErrNoMembers      = New(KindInvalidInput, "NO_MEMBERS", "at least one member is required")
	ErrQueryTooShort  = New(KindInvalidInput, "QUERY_TOO_SHORT", "search query must be at least 2 characters")

	ErrDuplicateRequest = New(KindConflict, "DUPLICATE_REQUEST", "a pending friend request already exists")
	ErrAlreadyFriends   = New(KindConflict, "ALREADY_FRIENDS", "users are already friends")
	ErrAlreadyProcessed = New(KindConflict, "ALREADY_PROCESSED", "friend request has already been processed")
	ErrAlreadyMember    = New(KindConflict, "ALREADY_MEMBER", "user is already a member of the group")
	ErrAlreadyDeleted   = New(KindConflict, "ALREADY_DELETED", "message is already deleted")
	ErrUsernameTaken    = New(KindConflict, "USERNAME_TAKEN", "username is already taken")
)
