package domain

import "github.com/google/uuid"

type UserID = uuid.UUID
type CredentialID = uuid.UUID

// ConnID identifies one live network connection. It is minted per socket and
// never reused.
type ConnID = string
