package control

import (
	"bufio"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"reconciler/pkg/uds"
)

// Call sends one request to the control socket at path and waits for the reply.
func Call(path string, req Request, timeout time.Duration) (Response, error) {
	client, err := uds.NewClient(path)
	if err != nil {
		return Response{}, err
	}
	conn, err := client.WithTimeout(timeout).Dial()
	if err != nil {
		return Response{}, errors.Wrapf(err, "dial control socket %s", path)
	}
	defer conn.Close()

	payload, err := sonic.Marshal(req)
	if err != nil {
		return Response{}, errors.Wrap(err, "marshal control request")
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return Response{}, errors.Wrap(err, "write control request")
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, errors.Wrap(err, "read control response")
	}
	var resp Response
	if err := sonic.Unmarshal(line, &resp); err != nil {
		return Response{}, errors.Wrap(err, "decode control response")
	}
	return resp, nil
}
