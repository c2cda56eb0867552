package rpc

import (
	"context"
	"encoding/base64"

	"github.com/s0up4200/motrix-go/internal/task"
)

func (c *Client) GetGlobalStat(ctx context.Context) (task.GlobalStat, error) {
	var info GlobalStatInfo
	if err := c.Call(ctx, "aria2.getGlobalStat", nil, &info); err != nil {
		return task.GlobalStat{}, err
	}
	return info.GlobalStat(), nil
}

func (c *Client) TellActive(ctx context.Context) ([]*task.Task, error) {
	return c.tell(ctx, "aria2.tellActive")
}

func (c *Client) TellWaiting(ctx context.Context, offset, num int) ([]*task.Task, error) {
	return c.tell(ctx, "aria2.tellWaiting", offset, num)
}

func (c *Client) TellStopped(ctx context.Context, offset, num int) ([]*task.Task, error) {
	return c.tell(ctx, "aria2.tellStopped", offset, num)
}

func (c *Client) tell(ctx context.Context, method string, params ...interface{}) ([]*task.Task, error) {
	var infos []StatusInfo
	if err := c.Call(ctx, method, params, &infos); err != nil {
		return nil, err
	}
	tasks := make([]*task.Task, len(infos))
	for i := range infos {
		tasks[i] = infos[i].Task()
	}
	return tasks, nil
}

// AddURI returns the gid of the new download.
func (c *Client) AddURI(ctx context.Context, uris []string, opts Options) (string, error) {
	var gid string
	err := c.Call(ctx, "aria2.addUri", []interface{}{uris, optionsParam(opts)}, &gid)
	return gid, err
}

// AddTorrent uploads the raw .torrent bytes. uris are optional web seeds.
func (c *Client) AddTorrent(ctx context.Context, torrent []byte, uris []string, opts Options) (string, error) {
	if uris == nil {
		uris = []string{}
	}
	var gid string
	params := []interface{}{base64.StdEncoding.EncodeToString(torrent), uris, optionsParam(opts)}
	err := c.Call(ctx, "aria2.addTorrent", params, &gid)
	return gid, err
}

func (c *Client) Pause(ctx context.Context, gid string) error {
	return c.Call(ctx, "aria2.pause", []interface{}{gid}, nil)
}

func (c *Client) Unpause(ctx context.Context, gid string) error {
	return c.Call(ctx, "aria2.unpause", []interface{}{gid}, nil)
}

func (c *Client) ForcePauseAll(ctx context.Context) error {
	return c.Call(ctx, "aria2.forcePauseAll", nil, nil)
}

func (c *Client) UnpauseAll(ctx context.Context) error {
	return c.Call(ctx, "aria2.unpauseAll", nil, nil)
}

func (c *Client) ForceRemove(ctx context.Context, gid string) error {
	return c.Call(ctx, "aria2.forceRemove", []interface{}{gid}, nil)
}

// RemoveDownloadResult drops a finished, failed or removed download from
// the engine's stopped list.
func (c *Client) RemoveDownloadResult(ctx context.Context, gid string) error {
	return c.Call(ctx, "aria2.removeDownloadResult", []interface{}{gid}, nil)
}

func (c *Client) SaveSession(ctx context.Context) error {
	return c.Call(ctx, "aria2.saveSession", nil, nil)
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.Call(ctx, "aria2.shutdown", nil, nil)
}

func (c *Client) ForceShutdown(ctx context.Context) error {
	return c.Call(ctx, "aria2.forceShutdown", nil, nil)
}

func (c *Client) ChangeGlobalOption(ctx context.Context, opts Options) error {
	return c.Call(ctx, "aria2.changeGlobalOption", []interface{}{optionsParam(opts)}, nil)
}

func (c *Client) GetVersion(ctx context.Context) (VersionInfo, error) {
	var info VersionInfo
	err := c.Call(ctx, "aria2.getVersion", nil, &info)
	return info, err
}

func optionsParam(opts Options) Options {
	if opts == nil {
		return Options{}
	}
	return opts
}
