// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package rdb

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/model"
)

// desensitizeWrite transforms a field value on the write boundary when
// the column stores the desensitised form.
func desensitizeWrite(ns *model.Namespace, col *model.Column, value string) (string, error) {
	switch col.Desensitize {
	case model.DesensAES:
		return aesEncrypt(ns.AESKey, ns.AESSalt, value)
	case model.DesensRSA:
		return rsaEncrypt(ns.RSAPublicKey, value)
	case model.DesensBase64:
		return base64.StdEncoding.EncodeToString([]byte(value)), nil
	default:
		return value, nil
	}
}

// desensitizeRead transforms a field value on the read boundary.
// Encrypted and encoded columns come back unchanged; replace masks the
// middle of the string and null blanks it.
func desensitizeRead(col *model.Column, value string) string {
	switch col.Desensitize {
	case model.DesensReplace:
		return maskMiddle(value)
	case model.DesensNull:
		return ""
	default:
		return value
	}
}

// maskMiddle replaces the middle third of the string with stars. Short
// strings mask everything but the first rune.
func maskMiddle(value string) string {
	runes := []rune(value)
	n := len(runes)
	if n == 0 {
		return value
	}
	if n < 3 {
		return string(runes[:1]) + strings.Repeat("*", n-1)
	}
	from, to := n/3, n-n/3
	return string(runes[:from]) + strings.Repeat("*", to-from) + string(runes[to:])
}

// aesEncrypt applies AES-CBC-256 with a key derived from the namespace
// key material and an IV derived from the salt, emitting base64.
func aesEncrypt(key, salt, value string) (string, error) {
	keyBytes := sha256.Sum256([]byte(key))
	iv := md5.Sum([]byte(salt))

	block, err := aes.NewCipher(keyBytes[:])
	if err != nil {
		return "", gerr.Backend.Wrap(err)
	}

	plain := pkcs7Pad([]byte(value), aes.BlockSize)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, plain)
	return base64.StdEncoding.EncodeToString(out), nil
}

// aesDecrypt reverses aesEncrypt; kept for script and export paths that
// need the clear value server-side.
func aesDecrypt(key, salt, encoded string) (string, error) {
	keyBytes := sha256.Sum256([]byte(key))
	iv := md5.Sum([]byte(salt))

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", gerr.Malformed.Wrap(err)
	}
	if len(raw)%aes.BlockSize != 0 || len(raw) == 0 {
		return "", gerr.Malformed.New("cipher text is not block aligned")
	}

	block, err := aes.NewCipher(keyBytes[:])
	if err != nil {
		return "", gerr.Backend.Wrap(err)
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, raw)

	out, err = pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, gerr.Malformed.New("bad padding length")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, gerr.Malformed.New("bad padding byte")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, gerr.Malformed.New("bad padding byte")
		}
	}
	return data[:len(data)-pad], nil
}

// rsaEncrypt applies PKCS#1 v1.5 with the namespace public key,
// emitting base64.
func rsaEncrypt(publicPEM, value string) (string, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return "", gerr.Malformed.New("namespace rsa public key is not PEM")
	}

	var pub *rsa.PublicKey
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return "", gerr.Malformed.New("namespace public key is not RSA")
		}
		pub = rsaPub
	} else if rsaPub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		pub = rsaPub
	} else {
		return "", gerr.Malformed.New("cannot parse namespace rsa public key")
	}

	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(value))
	if err != nil {
		return "", gerr.Backend.Wrap(err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}
