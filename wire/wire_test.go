package wire_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/lablup/backend.ai-kernel-runner/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPullerReceivesCommandFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	puller, err := wire.BindPull(ctx, "tcp://127.0.0.1:21700")
	require.NoError(t, err)
	defer puller.Close()

	push := zmq4.NewPush(ctx)
	defer push.Close()
	require.NoError(t, push.Dial("tcp://127.0.0.1:21700"))

	require.NoError(t, push.Send(zmq4.NewMsgFrom([]byte("exec"), []byte("echo hi"))))

	frame, err := puller.Recv()
	require.NoError(t, err)
	assert.Equal(t, "exec", frame.Tag)
	assert.Equal(t, "echo hi", string(frame.Body))
}

func TestPusherSendsEventFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pusher, err := wire.BindPush(ctx, "tcp://127.0.0.1:21701")
	require.NoError(t, err)
	defer pusher.Close()

	pull := zmq4.NewPull(ctx)
	defer pull.Close()
	require.NoError(t, pull.Dial("tcp://127.0.0.1:21701"))

	require.NoError(t, pusher.Send("stdout", []byte("hello\n")))

	msg, err := pull.Recv()
	require.NoError(t, err)
	require.Len(t, msg.Frames, 2)
	assert.Equal(t, "stdout", string(msg.Frames[0]))
	assert.Equal(t, "hello\n", string(msg.Frames[1]))
}

func TestPullerRejectsShortFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	puller, err := wire.BindPull(ctx, "tcp://127.0.0.1:21702")
	require.NoError(t, err)
	defer puller.Close()

	push := zmq4.NewPush(ctx)
	defer push.Close()
	require.NoError(t, push.Dial("tcp://127.0.0.1:21702"))

	require.NoError(t, push.Send(zmq4.NewMsg([]byte("status"))))

	_, err = puller.Recv()
	assert.Error(t, err)
}

func TestPubSubRelaysRawFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, err := wire.BindPub(ctx, "tcp://127.0.0.1:21703")
	require.NoError(t, err)
	defer pub.Close()

	sub := zmq4.NewSub(ctx)
	defer sub.Close()
	require.NoError(t, sub.Dial("tcp://127.0.0.1:21703"))
	require.NoError(t, sub.SetOption(zmq4.OptionSubscribe, ""))

	// Allow the subscription to propagate before publishing.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, pub.Send([]byte("shell output\r\n")))

	msg, err := sub.Recv()
	require.NoError(t, err)
	assert.Equal(t, "shell output\r\n", string(msg.Frames[0]))
}

func TestSubscriberReceivesKeystrokes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	subscriber, err := wire.BindSub(ctx, "tcp://127.0.0.1:21704")
	require.NoError(t, err)
	defer subscriber.Close()

	pub := zmq4.NewPub(ctx)
	defer pub.Close()
	require.NoError(t, pub.Dial("tcp://127.0.0.1:21704"))

	// Allow the subscription to propagate before publishing.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, pub.Send(zmq4.NewMsg([]byte("ls -la\n"))))

	data, err := subscriber.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ls -la\n", string(data))
}
