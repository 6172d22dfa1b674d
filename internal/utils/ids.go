package utils

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateNanoIDWithPrefix returns ids like "acct_x8k2m1q0p7vz41nn".
func GenerateNanoIDWithPrefix(prefix string, length int) string {
	id, err := gonanoid.Generate(idAlphabet, length)
	if err != nil {
		panic(err)
	}
	return prefix + "_" + id
}

func NewAccountID() string      { return GenerateNanoIDWithPrefix("acct", 16) }
func NewFolderID() string       { return GenerateNanoIDWithPrefix("fld", 16) }
func NewSubscriptionID() string { return GenerateNanoIDWithPrefix("sub", 16) }
func NewDeliveryID() string     { return GenerateNanoIDWithPrefix("dlv", 16) }
func NewGrantID() string        { return GenerateNanoIDWithPrefix("grant", 20) }
