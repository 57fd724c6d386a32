package host

// Engine functions located in the server executable.
const (
	FnCmdExecuteString    = "Cmd_ExecuteString"
	FnCvarFindVar         = "Cvar_FindVar"
	FnCvarSet             = "Cvar_Set"
	FnComPrintf           = "Com_Printf"
	FnSVExecuteClientCmd  = "SV_ExecuteClientCommand"
	FnSVSendServerCommand = "SV_SendServerCommand"
	FnSVSetConfigstring   = "SV_SetConfigstring"
	FnSVClientEnterWorld  = "SV_ClientEnterWorld"
	FnSVDropClient        = "SV_DropClient"
	FnSysSetModuleOffset  = "Sys_SetModuleOffset"
)

// Game module functions, located after the module is loaded.
const (
	FnGInitGame     = "G_InitGame"
	FnGRunFrame     = "G_RunFrame"
	FnClientConnect = "ClientConnect"
	FnClientSpawn   = "ClientSpawn"
	FnGDamage       = "G_Damage"
)

// Data references located through instructions that address them.
const (
	DataClients  = "svs.clients"
	DataServer   = "sv"
	DataEntities = "g_entities"
)
