package app

import "slices"

// Command はサブコマンド名。
type Command string

const (
	CommandServe   Command = "serve"
	CommandMigrate Command = "migrate"
	// distrolessイメージのHEALTHCHECKから呼ぶ
	CommandHealthcheck Command = "healthcheck"
	// 稼働中のAPIにクライアントSDK経由で負荷をかける
	CommandLoadtest Command = "loadtest"
)

var commands = []Command{CommandServe, CommandMigrate, CommandHealthcheck, CommandLoadtest}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数なしや未知の名前はserveとして扱う。2番目以降の引数は見ない。
func ParseCommand(args []string) Command {
	if len(args) > 0 && slices.Contains(commands, Command(args[0])) {
		return Command(args[0])
	}
	return CommandServe
}
