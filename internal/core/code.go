package core

import (
	"strings"

	"github.com/jmcvetta/randutil"
)

const (
	// RoomCodeAlphabet has 32 symbols and leaves out 0/O and 1/I.
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	RoomCodeLength   = 5

	maxCodeAttempts = 16
)

// NewRoomCode draws RoomCodeLength symbols uniformly from RoomCodeAlphabet
// using crypto/rand.
func NewRoomCode() (string, error) {
	return randutil.String(RoomCodeLength, RoomCodeAlphabet)
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, c) {
			return false
		}
	}
	return true
}
