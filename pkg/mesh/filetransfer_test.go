/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iqyx/umeshfw/pkg/wire"
)

// fakeFileBackend is an in-memory FileBackend for tests: a fixed byte
// slice played as the file's contents.
type fakeFileBackend struct {
	data []byte
}

func (b *fakeFileBackend) Open(name string) (any, uint32, error) {
	return nil, uint32(len(b.data)), nil
}

func (b *fakeFileBackend) Read(ctx any, pos uint32, out []byte) (int, error) {
	n := copy(out, b.data[pos:])
	return n, nil
}

func (b *fakeFileBackend) Write(ctx any, pos uint32, data []byte) (int, error) {
	n := copy(b.data[pos:], data)
	return n, nil
}

func (b *fakeFileBackend) Close(ctx any) error { return nil }

func (b *fakeFileBackend) Progress(ctx any, transferred, total uint32) {}

// withScenarioGeometry overrides a freshly-constructed session's piece
// geometry to match spec.md §8 scenario 6 (block_size=32,
// blocks_per_piece=32), since the default cache geometry sizes pieces
// larger than the scenario calls for.
func withScenarioGeometry(s *FileTransferSession) *FileTransferSession {
	s.BlockSize = 32
	s.BlocksPerPiece = 32
	s.PieceBytes = s.BlockSize * s.BlocksPerPiece
	return s
}

func runFileTransferTicks(t *testing.T, sender, receiver *FileTransferSession, dropBlockResponses bool) {
	t.Helper()

	var toReceiver, toSender [][]byte
	blockResponses := 0
	tick := 0
	for ; tick < 500 && !receiver.Done(); tick++ {
		toReceiver = append(toReceiver, sender.Step(fileTransferTickMS)...)
		toSender = append(toSender, receiver.Step(fileTransferTickMS)...)

		var nextToReceiver, nextToSender [][]byte
		for _, payload := range toSender {
			kind := fileMsgKind(payload[0])
			nextToReceiver = append(nextToReceiver, sender.HandleMessage(kind, payload)...)
		}
		for _, payload := range toReceiver {
			kind := fileMsgKind(payload[0])
			if dropBlockResponses && kind == fileMsgBlockResponse {
				blockResponses++
				if blockResponses%4 == 0 {
					continue // simulate 25% loss: every 4th block_response of the run
				}
			}
			nextToSender = append(nextToSender, receiver.HandleMessage(kind, payload)...)
		}
		toSender, toReceiver = nextToSender, nextToReceiver
	}
	require.Less(t, tick, 500, "transfer did not converge")
}

func TestFileTransferPieceCompletionLossless(t *testing.T) {
	fileSize := uint32(2048)
	content := make([]byte, fileSize)
	for i := range content {
		content[i] = byte(i)
	}

	senderBackend := &fakeFileBackend{data: append([]byte(nil), content...)}
	receiverBackend := &fakeFileBackend{data: make([]byte, fileSize)}

	var sessionID [sessionIDLen]byte
	copy(sessionID[:], []byte("abcdefgh"))

	sender, err := NewSenderSession(sessionID, wire.TID(2), senderBackend, "firmware.bin")
	require.NoError(t, err)
	withScenarioGeometry(sender)

	receiver := NewReceiverSession(sessionID, wire.TID(1), receiverBackend, "firmware.bin")

	// Drive the metadata/request handshake first so both sides enter
	// SENDING/RECEIVING with matching piece geometry.
	for tick := 0; tick < 50 && (sender.State != FileSending || receiver.State != FileReceiving); tick++ {
		metaMsgs := sender.Step(fileTransferTickMS)
		reqMsgs := receiver.Step(fileTransferTickMS)
		for _, m := range reqMsgs {
			sender.HandleMessage(fileMsgKind(m[0]), m)
		}
		for _, m := range metaMsgs {
			receiver.HandleMessage(fileMsgKind(m[0]), m)
			withScenarioGeometry(receiver)
		}
	}
	require.Equal(t, FileSending, sender.State)
	require.Equal(t, FileReceiving, receiver.State)

	runFileTransferTicks(t, sender, receiver, false)

	require.True(t, receiver.Done())
	require.Nil(t, receiver.Err())
	require.Equal(t, uint32(2), receiver.TransferredPieces, "2048/1024 == 2 pieces")
	require.Equal(t, content, receiverBackend.data)
}

func TestFileTransferPieceCompletionWithLoss(t *testing.T) {
	fileSize := uint32(2048)
	content := make([]byte, fileSize)
	for i := range content {
		content[i] = byte(255 - i)
	}

	senderBackend := &fakeFileBackend{data: append([]byte(nil), content...)}
	receiverBackend := &fakeFileBackend{data: make([]byte, fileSize)}

	var sessionID [sessionIDLen]byte
	copy(sessionID[:], []byte("losstest"))

	sender, err := NewSenderSession(sessionID, wire.TID(2), senderBackend, "firmware.bin")
	require.NoError(t, err)
	withScenarioGeometry(sender)

	receiver := NewReceiverSession(sessionID, wire.TID(1), receiverBackend, "firmware.bin")

	for tick := 0; tick < 50 && (sender.State != FileSending || receiver.State != FileReceiving); tick++ {
		metaMsgs := sender.Step(fileTransferTickMS)
		reqMsgs := receiver.Step(fileTransferTickMS)
		for _, m := range reqMsgs {
			sender.HandleMessage(fileMsgKind(m[0]), m)
		}
		for _, m := range metaMsgs {
			receiver.HandleMessage(fileMsgKind(m[0]), m)
			withScenarioGeometry(receiver)
		}
	}

	runFileTransferTicks(t, sender, receiver, true)

	require.True(t, receiver.Done())
	require.Nil(t, receiver.Err())
	require.Equal(t, uint32(2), receiver.TransferredPieces, "finished despite simulated loss; the bitmap should have driven retransmission of only the missing blocks")
	require.Equal(t, content, receiverBackend.data)
}
