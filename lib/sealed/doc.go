// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts exported session records to operator age
// recipients.
//
// Audit trails leave the host only in sealed form: [Seal] wraps a
// writer so everything written to it is encrypted to one or more
// x25519 recipients (age1...), and [Open] decrypts with an identity
// held in a [secret.Buffer]. Generated private keys are moved into
// locked memory as soon as age hands them over.
package sealed
