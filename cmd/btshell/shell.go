package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/btforge/bthal"
)

// shell is the interactive command loop around one open session.
type shell struct {
	rl   *readline.Instance
	sess *bthal.Session
	sink *sink
}

func (s *shell) printf(format string, args ...any) {
	fmt.Fprintf(s.rl.Stdout(), format+"\n", args...)
}

// report prints the error of a session call, if any. The interesting
// output arrives later through the event sink.
func (s *shell) report(err error) {
	if err != nil {
		s.printf("error: %v", err)
	}
}

func (s *shell) run() {
	s.printHelp()

	for {
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			// EOF or a closed terminal.
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "scan":
			s.cmdScan(args)

		case "devices", "ls":
			s.cmdDevices()

		case "connect":
			s.cmdConnect(args)

		case "disconnect":
			s.cmdDisconnect(args)

		case "refresh":
			s.cmdRefresh(args)

		case "services":
			s.cmdServices(args)

		case "db":
			s.cmdDB(args)

		case "read":
			s.cmdRead(args)

		case "write":
			s.cmdWrite(args)

		case "readd":
			s.cmdReadDescriptor(args)

		case "writed":
			s.cmdWriteDescriptor(args)

		case "execw":
			s.cmdExecuteWrite(args)

		case "notify":
			s.cmdNotify(args)

		case "rssi":
			s.cmdRSSI(args)

		case "mtu":
			s.cmdMTU(args)

		case "connparams":
			s.cmdConnParams(args)

		case "a2dp":
			s.cmdA2DP(args)

		case "key":
			s.cmdKey(args)

		case "group":
			s.cmdGroup(args)

		case "setting":
			s.cmdSetting(args)

		case "np":
			s.cmdNowPlaying(args)

		case "folders":
			s.cmdFolders(args)

		case "players":
			s.cmdPlayers(args)

		case "cd":
			s.cmdChangeFolder(args)

		case "play":
			s.cmdPlayItem(args)

		case "player":
			s.cmdSetPlayer(args)

		case "adv":
			s.cmdAdv(args)

		case "monitor":
			s.cmdMonitor(args)

		case "status":
			s.cmdStatus()

		case "quit", "exit", "q":
			return

		default:
			s.printf("unknown command %q (try 'help')", cmd)
		}
	}
}

// addrArg resolves an argument to an address: a colon-separated
// address, or a #index into the scan table.
func (s *shell) addrArg(arg string) (bthal.Address, bool) {
	if t := strings.TrimPrefix(arg, "#"); t != arg || !strings.Contains(arg, ":") {
		if i, err := strconv.Atoi(t); err == nil {
			addr, ok := s.sink.device(i)
			if !ok {
				s.printf("no device #%s in the scan table", t)
				return bthal.Address{}, false
			}
			return addr, true
		}
	}
	addr, err := bthal.ParseAddress(arg)
	if err != nil {
		s.printf("error: %v", err)
		return bthal.Address{}, false
	}
	return addr, true
}

// connArg resolves an argument to an open connection id, accepting
// either the numeric id or the device address.
func (s *shell) connArg(arg string) (bthal.ConnID, bool) {
	if n, err := strconv.Atoi(arg); err == nil {
		return bthal.ConnID(n), true
	}
	addr, ok := s.addrArg(arg)
	if !ok {
		return 0, false
	}
	id, ok := s.sink.connFor(addr)
	if !ok {
		s.printf("no open connection to %s", addr)
		return 0, false
	}
	return id, true
}

func (s *shell) handleArg(arg string) (bthal.AttrHandle, bool) {
	n, err := strconv.ParseUint(arg, 0, 16)
	if err != nil {
		s.printf("bad handle %q", arg)
		return 0, false
	}
	return bthal.AttrHandle(n), true
}

func (s *shell) hexArg(arg string) ([]byte, bool) {
	value, err := hex.DecodeString(strings.TrimPrefix(arg, "0x"))
	if err != nil {
		s.printf("bad hex value %q", arg)
		return nil, false
	}
	return value, true
}

func (s *shell) cmdScan(args []string) {
	if len(args) != 1 {
		s.printf("usage: scan start|stop")
		return
	}
	switch args[0] {
	case "start", "on":
		s.report(s.sess.GATTClient().StartScan())
	case "stop", "off":
		s.report(s.sess.GATTClient().StopScan())
	default:
		s.printf("usage: scan start|stop")
	}
}

func (s *shell) cmdDevices() {
	rows := s.sink.deviceRows()
	if len(rows) == 0 {
		s.printf("no devices seen; run 'scan start'")
		return
	}
	for i, d := range rows {
		s.printf("#%d %s rssi=%-4d %s", i, d.addr, d.rssi, d.name)
	}
}

func (s *shell) cmdConnect(args []string) {
	if len(args) != 1 {
		s.printf("usage: connect <addr|#n>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	s.report(s.sess.GATTClient().Connect(s.sink.client(), addr, true, bthal.TransportLE))
}

func (s *shell) cmdDisconnect(args []string) {
	if len(args) != 1 {
		s.printf("usage: disconnect <addr|#n>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	connID, ok := s.sink.connFor(addr)
	if !ok {
		s.printf("no open connection to %s", addr)
		return
	}
	s.report(s.sess.GATTClient().Disconnect(s.sink.client(), addr, connID))
}

func (s *shell) cmdRefresh(args []string) {
	if len(args) != 1 {
		s.printf("usage: refresh <addr|#n>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	s.report(s.sess.GATTClient().Refresh(s.sink.client(), addr))
}

func (s *shell) cmdServices(args []string) {
	if len(args) < 1 {
		s.printf("usage: services <conn|addr> [uuid]")
		return
	}
	connID, ok := s.connArg(args[0])
	if !ok {
		return
	}
	var filter *bthal.UUID
	if len(args) > 1 {
		u, err := bthal.ParseUUID(args[1])
		if err != nil {
			s.printf("error: %v", err)
			return
		}
		filter = &u
	}
	s.report(s.sess.GATTClient().SearchService(connID, filter))
}

func (s *shell) cmdDB(args []string) {
	if len(args) != 1 {
		s.printf("usage: db <conn|addr>")
		return
	}
	connID, ok := s.connArg(args[0])
	if !ok {
		return
	}
	s.report(s.sess.GATTClient().GetGattDB(connID))
}

func (s *shell) cmdRead(args []string) {
	if len(args) != 2 {
		s.printf("usage: read <conn|addr> <handle>")
		return
	}
	connID, ok := s.connArg(args[0])
	if !ok {
		return
	}
	handle, ok := s.handleArg(args[1])
	if !ok {
		return
	}
	s.report(s.sess.GATTClient().ReadCharacteristic(connID, handle, bthal.AuthNone))
}

func (s *shell) cmdWrite(args []string) {
	if len(args) != 3 {
		s.printf("usage: write <conn|addr> <handle> <hex>")
		return
	}
	connID, ok := s.connArg(args[0])
	if !ok {
		return
	}
	handle, ok := s.handleArg(args[1])
	if !ok {
		return
	}
	value, ok := s.hexArg(args[2])
	if !ok {
		return
	}
	s.report(s.sess.GATTClient().WriteCharacteristic(connID, handle, bthal.WriteDefault, bthal.AuthNone, value))
}

func (s *shell) cmdReadDescriptor(args []string) {
	if len(args) != 2 {
		s.printf("usage: readd <conn|addr> <handle>")
		return
	}
	connID, ok := s.connArg(args[0])
	if !ok {
		return
	}
	handle, ok := s.handleArg(args[1])
	if !ok {
		return
	}
	s.report(s.sess.GATTClient().ReadDescriptor(connID, handle, bthal.AuthNone))
}

func (s *shell) cmdWriteDescriptor(args []string) {
	if len(args) != 3 {
		s.printf("usage: writed <conn|addr> <handle> <hex>")
		return
	}
	connID, ok := s.connArg(args[0])
	if !ok {
		return
	}
	handle, ok := s.handleArg(args[1])
	if !ok {
		return
	}
	value, ok := s.hexArg(args[2])
	if !ok {
		return
	}
	s.report(s.sess.GATTClient().WriteDescriptor(connID, handle, bthal.AuthNone, value))
}

func (s *shell) cmdExecuteWrite(args []string) {
	if len(args) != 2 {
		s.printf("usage: execw <conn|addr> commit|abort")
		return
	}
	connID, ok := s.connArg(args[0])
	if !ok {
		return
	}
	switch args[1] {
	case "commit":
		s.report(s.sess.GATTClient().ExecuteWrite(connID, true))
	case "abort":
		s.report(s.sess.GATTClient().ExecuteWrite(connID, false))
	default:
		s.printf("usage: execw <conn|addr> commit|abort")
	}
}

func (s *shell) cmdNotify(args []string) {
	if len(args) != 3 {
		s.printf("usage: notify <addr|#n> <handle> on|off")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	handle, ok := s.handleArg(args[1])
	if !ok {
		return
	}
	switch args[2] {
	case "on":
		s.report(s.sess.GATTClient().RegisterForNotification(s.sink.client(), addr, handle, true))
	case "off":
		s.report(s.sess.GATTClient().RegisterForNotification(s.sink.client(), addr, handle, false))
	default:
		s.printf("usage: notify <addr|#n> <handle> on|off")
	}
}

func (s *shell) cmdRSSI(args []string) {
	if len(args) != 1 {
		s.printf("usage: rssi <addr|#n>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	s.report(s.sess.GATTClient().ReadRemoteRSSI(s.sink.client(), addr))
}

func (s *shell) cmdMTU(args []string) {
	if len(args) != 2 {
		s.printf("usage: mtu <conn|addr> <bytes>")
		return
	}
	connID, ok := s.connArg(args[0])
	if !ok {
		return
	}
	mtu, err := strconv.Atoi(args[1])
	if err != nil {
		s.printf("bad mtu %q", args[1])
		return
	}
	s.report(s.sess.GATTClient().ConfigureMTU(connID, mtu))
}

func (s *shell) cmdConnParams(args []string) {
	if len(args) != 5 {
		s.printf("usage: connparams <addr|#n> <min> <max> <latency> <timeout>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	var vals [4]int
	for i, arg := range args[1:] {
		n, err := strconv.Atoi(arg)
		if err != nil {
			s.printf("bad value %q", arg)
			return
		}
		vals[i] = n
	}
	s.report(s.sess.GATTClient().ConnectionParameterUpdate(addr, vals[0], vals[1], vals[2], vals[3]))
}

func (s *shell) cmdA2DP(args []string) {
	if len(args) != 2 {
		s.printf("usage: a2dp connect|disconnect <addr|#n>")
		return
	}
	addr, ok := s.addrArg(args[1])
	if !ok {
		return
	}
	switch args[0] {
	case "connect":
		s.report(s.sess.A2DP().Connect(addr))
	case "disconnect":
		s.report(s.sess.A2DP().Disconnect(addr))
	default:
		s.printf("usage: a2dp connect|disconnect <addr|#n>")
	}
}

// cmdKey sends a full press and release pair for one passthrough key.
func (s *shell) cmdKey(args []string) {
	if len(args) != 2 {
		s.printf("usage: key <addr|#n> play|pause|stop|next|prev|rew|ff|volup|voldown")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	key, ok := keyByName(args[1])
	if !ok {
		s.printf("unknown key %q", args[1])
		return
	}
	ctl := s.sess.AVRCPController()
	if err := ctl.SendPassthrough(addr, key, bthal.KeyPressed); err != nil {
		s.report(err)
		return
	}
	s.report(ctl.SendPassthrough(addr, key, bthal.KeyReleased))
}

func (s *shell) cmdGroup(args []string) {
	if len(args) != 2 {
		s.printf("usage: group <addr|#n> next|prev")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	var key uint8
	switch args[1] {
	case "next":
		key = 0
	case "prev":
		key = 1
	default:
		s.printf("usage: group <addr|#n> next|prev")
		return
	}
	ctl := s.sess.AVRCPController()
	if err := ctl.SendGroupNavigation(addr, key, bthal.KeyPressed); err != nil {
		s.report(err)
		return
	}
	s.report(ctl.SendGroupNavigation(addr, key, bthal.KeyReleased))
}

func (s *shell) cmdSetting(args []string) {
	if len(args) != 3 {
		s.printf("usage: setting <addr|#n> repeat|shuffle|equalizer|scan <value>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	var attr uint8
	switch args[1] {
	case "equalizer":
		attr = bthal.SettingEqualizer
	case "repeat":
		attr = bthal.SettingRepeat
	case "shuffle":
		attr = bthal.SettingShuffle
	case "scan":
		attr = bthal.SettingScan
	default:
		s.printf("unknown setting %q", args[1])
		return
	}
	value, err := strconv.ParseUint(args[2], 0, 8)
	if err != nil {
		s.printf("bad value %q", args[2])
		return
	}
	settings := []bthal.PlayerSetting{{Attr: attr, Value: uint8(value)}}
	s.report(s.sess.AVRCPController().SetPlayerSettings(addr, settings))
}

func (s *shell) cmdNowPlaying(args []string) {
	if len(args) != 1 {
		s.printf("usage: np <addr|#n>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	s.sink.setScope(bthal.ScopeNowPlaying)
	s.report(s.sess.AVRCPController().GetNowPlayingList(addr, 0, 20))
}

func (s *shell) cmdFolders(args []string) {
	if len(args) != 1 {
		s.printf("usage: folders <addr|#n>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	s.sink.setScope(bthal.ScopeFileSystem)
	s.report(s.sess.AVRCPController().GetFolderList(addr, 0, 20))
}

func (s *shell) cmdPlayers(args []string) {
	if len(args) != 1 {
		s.printf("usage: players <addr|#n>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	s.report(s.sess.AVRCPController().GetPlayerList(addr, 0, 20))
}

func (s *shell) cmdChangeFolder(args []string) {
	if len(args) != 2 {
		s.printf("usage: cd <addr|#n> up|<item#>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	if args[1] == "up" || args[1] == ".." {
		s.report(s.sess.AVRCPController().ChangeFolderPath(addr, bthal.FolderUp, bthal.MediaUID{}))
		return
	}
	i, err := strconv.Atoi(strings.TrimPrefix(args[1], "#"))
	if err != nil {
		s.printf("usage: cd <addr|#n> up|<item#>")
		return
	}
	item, _, ok := s.sink.listedItem(i)
	if !ok {
		s.printf("no item #%d in the last listing", i)
		return
	}
	if item.Type != bthal.MediaItemFolder {
		s.printf("item #%d is not a folder", i)
		return
	}
	s.report(s.sess.AVRCPController().ChangeFolderPath(addr, bthal.FolderDown, item.UID))
}

// cmdPlayItem starts an item from the last browse listing, in the
// scope that listing came from.
func (s *shell) cmdPlayItem(args []string) {
	if len(args) != 2 {
		s.printf("usage: play <addr|#n> <item#>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	i, err := strconv.Atoi(strings.TrimPrefix(args[1], "#"))
	if err != nil {
		s.printf("usage: play <addr|#n> <item#>")
		return
	}
	item, scope, ok := s.sink.listedItem(i)
	if !ok {
		s.printf("no item #%d in the last listing; run 'np' or 'folders' first", i)
		return
	}
	s.report(s.sess.AVRCPController().PlayItem(addr, scope, item.UID, 0))
}

func (s *shell) cmdSetPlayer(args []string) {
	if len(args) != 2 {
		s.printf("usage: player <addr|#n> <player-id>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}
	id, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		s.printf("bad player id %q", args[1])
		return
	}
	s.report(s.sess.AVRCPController().SetBrowsedPlayer(addr, uint16(id)))
}

// cmdAdv programs the registered advertising set with a default
// connectable payload carrying the adapter name, then flips it on or
// off.
func (s *shell) cmdAdv(args []string) {
	if len(args) < 1 {
		s.printf("usage: adv start [seconds] | adv stop")
		return
	}
	adv := s.sess.Advertiser()
	advID := s.sink.advertiser()
	if advID == 0 {
		s.printf("no advertising set registered")
		return
	}
	switch args[0] {
	case "start":
		timeout := 0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				s.printf("bad timeout %q", args[1])
				return
			}
			timeout = n
		}
		params := bthal.AdvertiseParams{
			MinInterval: bthal.NewAdvertiseInterval(100),
			MaxInterval: bthal.NewAdvertiseInterval(150),
			Type:        bthal.AdvInd,
		}
		if err := adv.SetParams(advID, params); err != nil {
			s.report(err)
			return
		}
		if err := adv.SetData(advID, false, bthal.AdvertiseData{IncludeName: true}); err != nil {
			s.report(err)
			return
		}
		s.report(adv.EnableAdvertising(advID, true, timeout))
	case "stop":
		s.report(adv.EnableAdvertising(advID, false, 0))
	default:
		s.printf("usage: adv start [seconds] | adv stop")
	}
}

func (s *shell) cmdStatus() {
	s.printf("session %s on %s", s.sess.ID(), s.sess.Stack().Name())
	s.printf("client if=%d, advertising set=%d", s.sink.client(), s.sink.advertiser())
	conns := s.sink.connRows()
	if len(conns) == 0 {
		s.printf("no open connections")
		return
	}
	for addr, id := range conns {
		s.printf("conn %d: %s", id, addr)
	}
}

func keyByName(name string) (bthal.PassthroughKey, bool) {
	switch name {
	case "play":
		return bthal.KeyPlay, true
	case "pause":
		return bthal.KeyPause, true
	case "stop":
		return bthal.KeyStop, true
	case "next", "forward":
		return bthal.KeyForward, true
	case "prev", "back":
		return bthal.KeyBackward, true
	case "rew", "rewind":
		return bthal.KeyRewind, true
	case "ff", "fastforward":
		return bthal.KeyFastFwd, true
	case "volup":
		return bthal.KeyVolumeUp, true
	case "voldown":
		return bthal.KeyVolumeDown, true
	}
	return 0, false
}

func (s *shell) printHelp() {
	fmt.Fprint(s.rl.Stdout(), `
Scanning and GATT:
  scan start|stop                      start or stop LE scanning
  devices                              list devices seen so far
  connect <addr|#n>                    open a GATT connection
  disconnect <addr|#n>                 close it again
  services <conn|addr> [uuid]          discover services
  db <conn|addr>                       dump the attribute database
  read <conn|addr> <handle>            read a characteristic
  write <conn|addr> <handle> <hex>     write a characteristic
  readd/writed                         same for descriptors
  execw <conn|addr> commit|abort       finish a prepared write
  notify <addr|#n> <handle> on|off     subscribe to notifications
  rssi <addr|#n>                       read the link RSSI
  mtu <conn|addr> <bytes>              request a larger MTU
  connparams <addr> <min> <max> <lat> <to>

Audio and remote control:
  a2dp connect|disconnect <addr|#n>    manage the audio link
  key <addr|#n> <name>                 send a media key (play, pause,
                                       stop, next, prev, rew, ff,
                                       volup, voldown)
  group <addr|#n> next|prev            group navigation
  setting <addr|#n> <name> <value>     change a player setting
  np <addr|#n>                         list the now playing queue
  folders <addr|#n>                    list the current folder
  players <addr|#n>                    list media players
  cd <addr|#n> up|<item#>              move through folders
  play <addr|#n> <item#>               play an item from the listing
  player <addr|#n> <id>                set the browsed player
  monitor <addr|#n>                    single-key media control

Advertising and session:
  adv start [seconds] | adv stop       toggle LE advertising
  status                               session and connection state
  quit                                 close the session and exit
`)
}
