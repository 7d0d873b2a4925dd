package securechannel

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"
)

func fixedServerRandom() []byte {
	return []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
}

func fixedClientRandom() []byte {
	return []byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18}
}

// simulatedPD computes the client cryptogram a well-behaved PD would
// return for a given server random, using the same key schedule
// Initialize expects, so tests don't need a captured wire vector.
func simulatedPD(scbk, serverRandom, clientRandom []byte) []byte {
	enc := deriveKey([]byte{0x01, 0x82}, serverRandom, scbk)
	return ecbCBCEncrypt(enc, append(append([]byte{}, serverRandom...), clientRandom...))
}

func TestInitializeAcceptsValidClientCryptogram(t *testing.T) {
	sc := New()
	sc.serverRandom = fixedServerRandom()
	clientRandom := fixedClientRandom()
	clientCryptogram := simulatedPD(sc.scbk, sc.serverRandom, clientRandom)

	if err := sc.Initialize([]byte{0xAA}, clientRandom, clientCryptogram); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !sc.IsInitialized() {
		t.Error("expected IsInitialized")
	}
	if len(sc.ServerCryptogram()) != 16 {
		t.Errorf("server cryptogram length = %d, want 16", len(sc.ServerCryptogram()))
	}
}

func TestInitializeRejectsBadClientCryptogram(t *testing.T) {
	sc := New()
	sc.serverRandom = fixedServerRandom()
	err := sc.Initialize([]byte{0xAA}, fixedClientRandom(), make([]byte, 16))
	if err != ErrBadClientCryptogram {
		t.Fatalf("err = %v, want ErrBadClientCryptogram", err)
	}
	if sc.IsInitialized() {
		t.Error("should not be initialized after a rejected cryptogram")
	}
}

func TestEstablishSetsState(t *testing.T) {
	sc := New()
	sc.serverRandom = fixedServerRandom()
	clientRandom := fixedClientRandom()
	clientCryptogram := simulatedPD(sc.scbk, sc.serverRandom, clientRandom)
	if err := sc.Initialize(nil, clientRandom, clientCryptogram); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	rmac0 := bytes.Repeat([]byte{0xAB}, 16)
	sc.Establish(rmac0)
	if !sc.IsEstablished() {
		t.Error("expected IsEstablished")
	}
}

func establishedChannel(t *testing.T) *SecureChannel {
	t.Helper()
	sc := New()
	sc.serverRandom = fixedServerRandom()
	clientRandom := fixedClientRandom()
	clientCryptogram := simulatedPD(sc.scbk, sc.serverRandom, clientRandom)
	if err := sc.Initialize(nil, clientRandom, clientCryptogram); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	sc.Establish(bytes.Repeat([]byte{0xAB}, 16))
	return sc
}

func TestGenerateMACIsDeterministicForFixedState(t *testing.T) {
	sc := establishedChannel(t)
	message := []byte{0x60}

	rmacBefore := append([]byte{}, sc.rmac...)
	mac1 := sc.GenerateMAC(message, true)
	sc.rmac = rmacBefore // command MAC generation doesn't touch rmac; restore to isolate the check
	mac2 := sc.GenerateMAC(message, true)

	if !bytes.Equal(mac1, mac2) {
		t.Errorf("GenerateMAC not deterministic for identical state: % X vs % X", mac1, mac2)
	}
	if len(mac1) != 16 {
		t.Errorf("mac length = %d, want 16", len(mac1))
	}
}

func TestVerifyMACAcceptsMatchingMAC(t *testing.T) {
	sc := establishedChannel(t)
	message := []byte{0x40, 0xAA, 0xBB}

	// Compute what a PD replying to this command would produce, using a
	// channel with identical key/chain state.
	peer := establishedChannel(t)
	fullMAC := peer.GenerateMAC(message, false)

	if err := sc.VerifyMAC(message, fullMAC[:4]); err != nil {
		t.Fatalf("VerifyMAC: %v", err)
	}
}

func TestVerifyMACRejectsMismatch(t *testing.T) {
	sc := establishedChannel(t)
	err := sc.VerifyMAC([]byte{0x40}, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if err != ErrMacMismatch {
		t.Fatalf("err = %v, want ErrMacMismatch", err)
	}
}

func TestEncryptDecryptPayloadRoundTrip(t *testing.T) {
	sc := establishedChannel(t)
	sc.cmac = bytes.Repeat([]byte{0x11}, 16)
	sc.rmac = bytes.Repeat([]byte{0x22}, 16)

	plain := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	encrypted := sc.EncryptCommandPayload(plain)

	// EncryptCommandPayload is keyed off the reply-MAC complement, so its
	// output is only checked for block alignment below. The round trip
	// runs through the reply convention instead: a second channel with
	// the same chain state encrypts plain the way a PD builds a reply
	// payload, and DecryptReplyPayload must recover it.
	sc2 := establishedChannel(t)
	sc2.cmac = bytes.Repeat([]byte{0x11}, 16)
	sc2.rmac = bytes.Repeat([]byte{0x22}, 16)
	decrypted := sc2.DecryptReplyPayload(encryptedUnderReplyConvention(sc2, plain))
	if !bytes.Equal(decrypted, plain) {
		t.Errorf("decrypted = % X, want % X", decrypted, plain)
	}
	if len(encrypted)%16 != 0 {
		t.Errorf("EncryptCommandPayload output length %d not block-aligned", len(encrypted))
	}
}

// encryptedUnderReplyConvention encrypts plain the way a PD would
// build a reply payload, i.e. under the complement of the command-MAC
// chain, matching what DecryptReplyPayload expects to undo.
func encryptedUnderReplyConvention(sc *SecureChannel, plain []byte) []byte {
	iv := notBytes(sc.cmac)
	padded := pad(plain)
	out := make([]byte, len(padded))
	c, err := aes.NewCipher(sc.enc)
	if err != nil {
		panic(err)
	}
	cipher.NewCBCEncrypter(c, iv).CryptBlocks(out, padded)
	return out
}
