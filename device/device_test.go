package device

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"
	"time"

	"osdp-panel/command"
	"osdp-panel/securechannel"
)

// computeExpectedClientCryptogram replicates the PD side of the key
// schedule against d's current server random, using an all-zero client
// random, so device_test.go can drive Initialize without reaching into
// securechannel's unexported helpers.
func computeExpectedClientCryptogram(d *Device) []byte {
	serverRandom := d.SecureChannel().ServerRandom()
	clientRandom := make([]byte, 8)

	block := append([]byte{0x01, 0x82}, serverRandom[:6]...)
	block = append(block, make([]byte, 16-len(block))...)
	enc := aesEncryptBlock(securechannel.DefaultSCBK, block)

	return aesCBCEncrypt(enc, append(append([]byte{}, serverRandom...), clientRandom...))
}

func aesEncryptBlock(key, block []byte) []byte {
	c, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	out := make([]byte, 16)
	c.Encrypt(out, block)
	return out
}

func aesCBCEncrypt(key, data []byte) []byte {
	c, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(c, make([]byte, 16)).CryptBlocks(out, data)
	return out
}

func TestSequenceAdvanceWraps(t *testing.T) {
	d := New(Config{Address: 0x01})
	want := []byte{1, 2, 3, 1, 2, 3}
	for _, w := range want {
		d.AdvanceSequence()
		if d.Sequence() != w {
			t.Fatalf("sequence = %d, want %d", d.Sequence(), w)
		}
	}
}

func TestNextCommandBootstrapsWithPoll(t *testing.T) {
	d := New(Config{Address: 0x01})
	cmd := d.NextCommand()
	if cmd.Code() != command.Poll().Code() {
		t.Errorf("bootstrap command code = %v, want Poll", cmd.Code())
	}
}

func TestNextCommandRunsSecureHandshakeBeforeQueue(t *testing.T) {
	d := New(Config{Address: 0x01, UseSCS: true})
	d.AdvanceSequence() // sequence now 1, bootstrap POLL done

	d.Enqueue(command.LocalStatus())

	first := d.NextCommand()
	if _, ok := first.(command.SecurityInitializationRequestCommand); !ok {
		t.Fatalf("first post-bootstrap command = %T, want SecurityInitializationRequestCommand", first)
	}
}

func TestNextCommandServesQueueWithoutSecureChannel(t *testing.T) {
	d := New(Config{Address: 0x01, UseSCS: false})
	d.AdvanceSequence()
	d.Enqueue(command.LocalStatus())

	cmd := d.NextCommand()
	if cmd.Code() != command.LocalStatus().Code() {
		t.Fatalf("command code = %v, want LocalStatus", cmd.Code())
	}
}

func TestNextCommandFallsBackToPollWhenQueueEmpty(t *testing.T) {
	d := New(Config{Address: 0x01})
	d.AdvanceSequence()
	cmd := d.NextCommand()
	if cmd.Code() != command.Poll().Code() {
		t.Errorf("idle command code = %v, want Poll", cmd.Code())
	}
}

func TestIsOnlineBeforeAnyReply(t *testing.T) {
	d := New(Config{Address: 0x01})
	if d.IsOnline() {
		t.Error("device with no replies should not be online")
	}
}

func TestIsOnlineWithinLivenessWindow(t *testing.T) {
	d := New(Config{Address: 0x01})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return base }
	defer func() { now = time.Now }()

	d.OnValidReply()
	if !d.IsOnline() {
		t.Error("device should be online immediately after a valid reply")
	}

	now = func() time.Time { return base.Add(6 * time.Second) }
	if d.IsOnline() {
		t.Error("device should be offline after the liveness window elapses")
	}
}

func TestResetSecurityClearsHandshakeProgress(t *testing.T) {
	d := New(Config{Address: 0x01, UseSCS: true})
	d.AdvanceSequence()
	if err := d.SecureChannel().Initialize(nil, make([]byte, 8), computeExpectedClientCryptogram(d)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	d.ResetSecurity()
	cmd := d.NextCommand()
	if _, ok := cmd.(command.SecurityInitializationRequestCommand); !ok {
		t.Fatalf("command after reset = %T, want SecurityInitializationRequestCommand", cmd)
	}
}

func TestNextCommandRetriesHandshakeStepUntilStateAdvances(t *testing.T) {
	d := New(Config{Address: 0x01, UseSCS: true})
	d.AdvanceSequence()

	// A dropped/timed-out reply never sets any "already sent" bookkeeping,
	// so the same handshake step must keep being offered on every call
	// until the secure channel's own state actually advances.
	for i := 0; i < 3; i++ {
		cmd := d.NextCommand()
		if _, ok := cmd.(command.SecurityInitializationRequestCommand); !ok {
			t.Fatalf("call %d: command = %T, want SecurityInitializationRequestCommand", i, cmd)
		}
	}

	if err := d.SecureChannel().Initialize(nil, make([]byte, 8), computeExpectedClientCryptogram(d)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for i := 0; i < 3; i++ {
		cmd := d.NextCommand()
		if _, ok := cmd.(command.ServerCryptogramCommand); !ok {
			t.Fatalf("call %d: command = %T, want ServerCryptogramCommand", i, cmd)
		}
	}
}
