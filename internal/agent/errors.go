package agent

import "errors"

// ErrBootstrap 表示启动阶段无法获取或解析初始计划。调用方应以非零状态退出。
var ErrBootstrap = errors.New("agent bootstrap failed")
