package osadapt

import (
	"testing"

	"moshvm/internal/logging"
)

// fakeDialer/fakeOpener let filetable tests construct real
// Stream/PacketEndpoint instances backed by the fake senders above,
// without a real hostruntime.Runtime.
type fakeDialer struct{}

func (fakeDialer) NewStream(logger logging.Logger, sel *Selector, id int, family Family) (Stream, error) {
	return NewStreamEndpoint(logger, sel, id, &fakeStreamSender{}), nil
}

type fakeOpener struct{}

func (fakeOpener) NewDatagram(logger logging.Logger, sel *Selector, id int, family Family) (PacketEndpoint, error) {
	return NewDatagramEndpoint(logger, sel, id, &fakeDatagramSender{}, family), nil
}

func newTestFileTable() *FileTable {
	ft := NewFileTable(testLogger(), fakeDialer{}, fakeOpener{})
	stdin := NewStreamEndpoint(testLogger(), ft.Selector(), 0, &fakeStreamSender{})
	stdout := NewStreamEndpoint(testLogger(), ft.Selector(), 1, &fakeStreamSender{})
	stderr := NewStreamEndpoint(testLogger(), ft.Selector(), 2, &fakeStreamSender{})
	ft.InstallStdEndpoints(stdin, stdout, stderr)
	return ft
}

func TestFileTable_StdDescriptorsReserved(t *testing.T) {
	ft := newTestFileTable()
	fd, err := ft.Socket(AFInetDomain, SockStream, 0)
	if err != nil {
		t.Fatalf("Socket failed: %v", err)
	}
	if fd < 3 {
		t.Fatalf("expected a fresh descriptor >= 3, got %d", fd)
	}
}

func TestFileTable_CloseFreesDescriptor(t *testing.T) {
	ft := newTestFileTable()
	fd, err := ft.Socket(AFInetDomain, SockDgram, 0)
	if err != nil {
		t.Fatalf("Socket failed: %v", err)
	}
	if err := ft.Close(fd); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ft.Close(fd); err != EBADF {
		t.Fatalf("expected EBADF on double close, got %v", err)
	}

	fd2, err := ft.Socket(AFInetDomain, SockDgram, 0)
	if err != nil {
		t.Fatalf("Socket failed: %v", err)
	}
	if fd2 != fd {
		t.Fatalf("expected the freed descriptor %d to be reused, got %d", fd, fd2)
	}
}

func TestFileTable_OpenUnknownPathFails(t *testing.T) {
	ft := newTestFileTable()
	_, err := ft.Open("/dev/null")
	if err != EACCES {
		t.Fatalf("expected EACCES for an unregistered path, got %v", err)
	}
}

func TestFileTable_OpenRegisteredNamedFactory(t *testing.T) {
	ft := newTestFileTable()
	ft.RegisterNamedFactory("/dev/urandom", NewURandomFactory())

	fd, err := ft.Open("/dev/urandom")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	buf := make([]byte, 8)
	n, err := ft.Read(fd, buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("expected %d bytes, got %d", len(buf), n)
	}
}

func TestFileTable_ConnectLocalUnregisteredNameFails(t *testing.T) {
	ft := newTestFileTable()
	fd, err := ft.Socket(AFUnixDomain, SockStream, 0)
	if err != nil {
		t.Fatalf("Socket failed: %v", err)
	}
	if err := ft.ConnectLocal(fd, "nonexistent"); err != EACCES {
		t.Fatalf("expected EACCES for an unregistered local name, got %v", err)
	}
}

func TestFileTable_RecvDontWaitOnEmptyIsEWouldBlock(t *testing.T) {
	ft := newTestFileTable()
	fd, err := ft.Socket(AFInetDomain, SockStream, 0)
	if err != nil {
		t.Fatalf("Socket failed: %v", err)
	}
	_, err = ft.Recv(fd, make([]byte, 16), MsgDontWait)
	if err != EWOULDBLOCK {
		t.Fatalf("expected EWOULDBLOCK, got %v", err)
	}
}

func TestFileTable_FcntlTogglesBlockingMode(t *testing.T) {
	ft := newTestFileTable()
	fd, err := ft.Socket(AFInetDomain, SockStream, 0)
	if err != nil {
		t.Fatalf("Socket failed: %v", err)
	}
	if err := ft.Fcntl(fd, FSetFL, ONonblock); err != nil {
		t.Fatalf("Fcntl failed: %v", err)
	}
	// With O_NONBLOCK set, a blocking Read on an empty stream must return
	// EWOULDBLOCK immediately rather than parking on the Selector.
	_, err = ft.Read(fd, make([]byte, 16))
	if err != EWOULDBLOCK {
		t.Fatalf("expected EWOULDBLOCK after F_SETFL O_NONBLOCK, got %v", err)
	}
}

func TestFileTable_BadDescriptorFails(t *testing.T) {
	ft := newTestFileTable()
	if _, err := ft.Read(999, make([]byte, 1)); err != EBADF {
		t.Fatalf("expected EBADF, got %v", err)
	}
}
