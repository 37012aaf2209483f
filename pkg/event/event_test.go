package event_test

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/jmerrifield20/accountant/pkg/event"
)

func newKey(t *testing.T, seed byte) (event.Identity, ed25519.PrivateKey) {
	t.Helper()
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	var id event.Identity
	copy(id[:], priv.Public().(ed25519.PublicKey))
	return id, priv
}

func TestTransfer_signAndVerify(t *testing.T) {
	from, priv := newKey(t, 1)
	to, _ := newKey(t, 2)

	tr := event.Transfer{From: from, To: to, Amount: 50, Reference: event.Hash([]byte("genesis"))}
	tr.Sign(priv)

	if !tr.Verify() {
		t.Fatal("Verify() = false for a correctly signed transfer")
	}
}

func TestTransfer_verifyRejectsOtherSigner(t *testing.T) {
	from, _ := newKey(t, 1)
	to, _ := newKey(t, 2)
	_, mallory := newKey(t, 3)

	tr := event.Transfer{From: from, To: to, Amount: 50}
	tr.Sign(mallory)

	if tr.Verify() {
		t.Error("Verify() = true for a transfer signed by someone other than From")
	}
}

func TestTransfer_signatureCoversEveryField(t *testing.T) {
	from, priv := newKey(t, 1)
	to, _ := newKey(t, 2)
	other, _ := newKey(t, 4)

	base := event.Transfer{From: from, To: to, Amount: 50, Reference: event.Hash([]byte("g"))}
	base.Sign(priv)

	mutations := map[string]func(*event.Transfer){
		"to":        func(tr *event.Transfer) { tr.To = other },
		"amount":    func(tr *event.Transfer) { tr.Amount++ },
		"reference": func(tr *event.Transfer) { tr.Reference[0] ^= 0xff },
		"sig":       func(tr *event.Transfer) { tr.Sig[10] ^= 0x01 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tr := base
			mutate(&tr)
			if tr.Verify() {
				t.Errorf("Verify() = true after tampering with %s", name)
			}
		})
	}
}

func TestVerify_garbageSignatureIsFalse(t *testing.T) {
	id, _ := newKey(t, 1)
	var sig event.Signature
	for i := range sig {
		sig[i] = 0xff
	}
	if event.Verify(id, []byte("msg"), sig) {
		t.Error("Verify() accepted a garbage signature")
	}
}

func TestTransfer_encodingLayout(t *testing.T) {
	from, priv := newKey(t, 1)
	to, _ := newKey(t, 2)
	tr := event.Transfer{From: from, To: to, Amount: 0x0102030405060708}
	tr.Sign(priv)

	msg := tr.Message()
	if len(msg) != event.MessageSize {
		t.Fatalf("len(Message()) = %d, want %d", len(msg), event.MessageSize)
	}
	amount := msg[2*event.IdentitySize : 2*event.IdentitySize+8]
	if !bytes.Equal(amount, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("amount not big-endian: %x", amount)
	}

	enc := tr.Encode()
	if len(enc) != event.EncodedSize {
		t.Fatalf("len(Encode()) = %d, want %d", len(enc), event.EncodedSize)
	}
	if !bytes.Equal(enc[1:1+event.MessageSize], msg) {
		t.Error("Encode() does not embed Message()")
	}
	if !bytes.Equal(enc[1+event.MessageSize:], tr.Sig[:]) {
		t.Error("Encode() does not end with the signature")
	}
}

func TestHash_deterministic(t *testing.T) {
	a := event.Hash([]byte("a"), []byte("b"))
	b := event.Hash([]byte("ab"))
	if a != b {
		t.Error("Hash over split parts differs from Hash over concatenation")
	}
	if a.IsZero() {
		t.Error("Hash returned zero digest")
	}
}
