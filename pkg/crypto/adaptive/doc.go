// Package adaptive provides authenticated encryption for data at rest.
//
// Two AEAD ciphers are supported: AES-256-GCM, preferred where the CPU
// has AES instructions, and ChaCha20-Poly1305 elsewhere. Every sealed
// message carries its own random nonce in front of the ciphertext.
package adaptive
