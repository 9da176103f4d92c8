package eventlog

import (
	"context"
	"testing"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

func TestVerify_detectsTampering(t *testing.T) {
	ctx := context.Background()

	cases := map[string]func(l *MemoryLog){
		"rewritten kind":  func(l *MemoryLog) { l.entries[1].Kind = "revoked" },
		"rewritten data":  func(l *MemoryLog) { l.entries[2].DataHash = GenesisHash },
		"dropped entry":   func(l *MemoryLog) { l.entries = append(l.entries[:1], l.entries[2:]...) },
		"forged genesis":  func(l *MemoryLog) { l.entries[0].Hash = "ff" },
		"relinked parent": func(l *MemoryLog) { l.entries[2].PrevHash = l.entries[0].Hash },
	}
	for name, tamper := range cases {
		t.Run(name, func(t *testing.T) {
			l := NewMemoryLog()
			for i := 0; i < 3; i++ {
				if _, err := l.Append(ctx, wallet.Event{Kind: wallet.EventConfirmed, Index: i}); err != nil {
					t.Fatal(err)
				}
			}
			tamper(l)
			if err := l.Verify(ctx); err == nil {
				t.Error("Verify() accepted a tampered chain")
			}
		})
	}
}
