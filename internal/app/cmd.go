package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。既定のモード。
	CommandServe Command = "serve"
	// CommandWorker は期限切れ検証トークンの定期削除を常駐で実行する。
	CommandWorker Command = "worker"
	// CommandSweep は期限切れ検証トークンの削除を1回だけ実行して終了する。
	// cronやCIジョブから呼び出す用途。
	CommandSweep Command = "sweep"
	// CommandMigrate はデータベースマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のAPIサーバーの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// commands はサブコマンド名から起動モードへの対応表。
var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandSweep):       CommandSweep,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// NeedsDatabase はモードの実行にDB接続が必要かどうかを返す。
func (c Command) NeedsDatabase() bool {
	return c != CommandHealthcheck
}

// ParseCommand はos.Args[1:]の先頭からサブコマンドを解析する。
// 引数が無い場合や未知のサブコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
